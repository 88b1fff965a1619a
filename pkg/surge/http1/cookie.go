package http1

import "strings"

// ParseCookies splits a Cookie header value into a name->value map. Pairs
// are split on the first '=', surrounding whitespace is trimmed, and
// duplicate names keep the last occurrence, per spec.md §4.C.
func ParseCookies(header string) map[string]string {
	out := map[string]string{}
	if header == "" {
		return out
	}
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			out[part] = ""
			continue
		}
		name := strings.TrimSpace(part[:eq])
		value := strings.TrimSpace(part[eq+1:])
		out[name] = value
	}
	return out
}
