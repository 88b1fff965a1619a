package http1

import "strconv"

// State is the parser's observable state, named to match spec.md §4.E's
// connection-level state list (the connection simply mirrors the parser's
// state for logging/tests).
type State int

const (
	StateIdle State = iota
	StateMessageBegin
	StateURL
	StateHeaderField
	StateHeaderValue
	StateHeadersComplete
	StateBody
	StateMessageComplete
)

// Callbacks are invoked as Execute advances the state machine. Slices
// passed to OnURL/OnHeaderField/OnHeaderValue/OnBody are views into the
// byte slice passed to Execute: they are valid only until the next Execute
// call. A field spanning two Execute calls fires its callback once per
// call; the caller (the connection's receive loop) merges the pieces.
type Callbacks struct {
	OnMessageBegin    func()
	OnURL             func(b []byte)
	OnHeaderField     func(b []byte)
	OnHeaderValue     func(b []byte)
	OnHeadersComplete func()
	OnBody            func(b []byte)
	OnMessageComplete func()
}

// internal sub-states, finer grained than the observable State.
type phase int

const (
	phMethod phase = iota
	phURL
	phProto
	phReqLineCR
	phReqLineLF
	phHeaderFieldStart
	phHeaderField
	phHeaderValueStart
	phHeaderValue
	phHeaderValueCR
	phHeadersAlmostDone // saw CRLF after a header or after the request line
	phBodyIdentity
	phChunkSize
	phChunkExt
	phChunkSizeCR
	phChunkData
	phChunkDataCR
	phChunkDataLF
	phChunkTrailer
	phDone
)

// Parser is the byte-fed HTTP/1.1 incremental parser (spec.md §4.D).
type Parser struct {
	cb    Callbacks
	state State
	ph    phase

	methodBuf []byte
	protoBuf  []byte

	sawHeaderFieldThisHeader bool // true once header-field bytes seen since last value commit
	curHeaderHasValue        bool

	hasContentLength bool
	hasTransferEnc   bool
	contentLength    int64
	chunked          bool

	remaining  int64 // bytes left for identity body
	chunkSize  int64
	chunkExtSeen bool

	ProtoMajor int
	ProtoMinor int
}

// NewParser returns a Parser wired to cb.
func NewParser(cb Callbacks) *Parser {
	return &Parser{cb: cb, state: StateIdle, ph: phMethod}
}

// Reset returns the parser to its initial state for connection reuse after
// a message completes with no pipelined data pending.
func (p *Parser) Reset() {
	*p = Parser{cb: p.cb, state: StateIdle, ph: phMethod}
}

// HasBody reports whether the just-parsed headers indicate a body will
// follow (Content-Length > 0 or chunked transfer encoding).
func (p *Parser) HasBody() bool {
	return (p.hasContentLength && p.contentLength > 0) || p.chunked
}

// ContentLength returns the parsed Content-Length, or -1 if absent.
func (p *Parser) ContentLength() int64 {
	if !p.hasContentLength {
		return -1
	}
	return p.contentLength
}

// Chunked reports whether Transfer-Encoding: chunked was present.
func (p *Parser) Chunked() bool { return p.chunked }

// Execute feeds data into the parser, advancing its state and firing
// callbacks. It returns the number of bytes consumed. Per spec.md §4.D,
// once a message completes, Execute returns immediately without starting
// the next message even if data holds more bytes (pipeline detection); the
// caller must call Execute again with data[consumed:].
func (p *Parser) Execute(data []byte) (consumed int, err error) {
	if p.state == StateIdle {
		p.state = StateMessageBegin
		if p.cb.OnMessageBegin != nil {
			p.cb.OnMessageBegin()
		}
	}

	i := 0
	n := len(data)
	for i < n {
		b := data[i]
		switch p.ph {

		case phMethod:
			if b == ' ' {
				p.ph = phURL
				p.state = StateURL
				i++
				continue
			}
			if !isMethodChar(b) {
				return i, ErrInvalidMethod
			}
			p.methodBuf = append(p.methodBuf, b)
			if len(p.methodBuf) > 16 {
				return i, ErrInvalidMethod
			}
			i++

		case phURL:
			start := i
			for i < n && data[i] != ' ' {
				i++
			}
			if i > start && p.cb.OnURL != nil {
				p.cb.OnURL(data[start:i])
			}
			if i < n { // hit the delimiting space
				p.ph = phProto
				i++
			}

		case phProto:
			if b == '\r' {
				major, minor, ok := parseProto(p.protoBuf)
				if !ok {
					return i, ErrInvalidProtocol
				}
				p.ProtoMajor, p.ProtoMinor = major, minor
				p.ph = phReqLineCR
				i++
				continue
			}
			p.protoBuf = append(p.protoBuf, b)
			if len(p.protoBuf) > 16 {
				return i, ErrInvalidProtocol
			}
			i++

		case phReqLineCR:
			if b != '\n' {
				return i, ErrInvalidRequestLine
			}
			i++
			p.ph = phHeaderFieldStart
			p.state = StateHeaderField

		case phHeaderFieldStart:
			if b == '\r' {
				p.ph = phHeadersAlmostDone
				i++
				continue
			}
			p.ph = phHeaderField
			// fall through without consuming b

		case phHeaderField:
			start := i
			for i < n && data[i] != ':' {
				if data[i] == '\r' || data[i] == '\n' {
					return i, ErrInvalidHeader
				}
				i++
			}
			if i > start && p.cb.OnHeaderField != nil {
				p.cb.OnHeaderField(data[start:i])
			}
			if i < n { // hit ':'
				i++
				p.ph = phHeaderValueStart
				p.state = StateHeaderValue
			}

		case phHeaderValueStart:
			if b == ' ' || b == '\t' {
				i++
				continue
			}
			p.ph = phHeaderValue
			// fall through without consuming b

		case phHeaderValue:
			start := i
			for i < n && data[i] != '\r' {
				i++
			}
			if i > start && p.cb.OnHeaderValue != nil {
				p.cb.OnHeaderValue(data[start:i])
			}
			if i < n { // hit '\r'
				p.ph = phHeaderValueCR
				i++
			}

		case phHeaderValueCR:
			if b != '\n' {
				return i, ErrInvalidHeader
			}
			i++
			p.ph = phHeaderFieldStart
			p.state = StateHeaderField

		case phHeadersAlmostDone:
			if b != '\n' {
				return i, ErrInvalidHeader
			}
			i++
			if err := p.finalizeBodyFraming(); err != nil {
				return i, err
			}
			p.state = StateHeadersComplete
			if p.cb.OnHeadersComplete != nil {
				p.cb.OnHeadersComplete()
			}
			if !p.HasBody() {
				p.finishMessage()
				return i, nil
			}
			p.state = StateBody
			if p.chunked {
				p.ph = phChunkSize
				p.chunkSize = 0
			} else {
				p.ph = phBodyIdentity
				p.remaining = p.contentLength
			}

		case phBodyIdentity:
			avail := int64(n - i)
			take := p.remaining
			if take > avail {
				take = avail
			}
			if take > 0 && p.cb.OnBody != nil {
				p.cb.OnBody(data[i : i+int(take)])
			}
			i += int(take)
			p.remaining -= take
			if p.remaining == 0 {
				p.finishMessage()
				return i, nil
			}
			// ran out of data this call; need more

		case phChunkSize:
			if isHex(b) {
				v, _ := hexVal(b)
				p.chunkSize = p.chunkSize*16 + int64(v)
				i++
				continue
			}
			if b == ';' {
				p.ph = phChunkExt
				i++
				continue
			}
			if b == '\r' {
				p.ph = phChunkSizeCR
				i++
				continue
			}
			return i, ErrChunkedEncoding

		case phChunkExt:
			// ignore chunk extensions entirely (anti-smuggling posture)
			if b == '\r' {
				p.ph = phChunkSizeCR
			}
			i++

		case phChunkSizeCR:
			if b != '\n' {
				return i, ErrChunkedEncoding
			}
			i++
			if p.chunkSize == 0 {
				p.ph = phChunkTrailer
				continue
			}
			p.ph = phChunkData

		case phChunkData:
			avail := int64(n - i)
			take := p.chunkSize
			if take > avail {
				take = avail
			}
			if take > 0 && p.cb.OnBody != nil {
				p.cb.OnBody(data[i : i+int(take)])
			}
			i += int(take)
			p.chunkSize -= take
			if p.chunkSize == 0 {
				p.ph = phChunkDataCR
			}

		case phChunkDataCR:
			if b != '\r' {
				return i, ErrChunkedEncoding
			}
			i++
			p.ph = phChunkDataLF

		case phChunkDataLF:
			if b != '\n' {
				return i, ErrChunkedEncoding
			}
			i++
			p.chunkSize = 0
			p.ph = phChunkSize

		case phChunkTrailer:
			// Skip trailer header lines up to the final blank line.
			// A bare CRLF ends the trailers; we don't surface trailer
			// headers as callbacks (spec.md names no such callback).
			if b == '\r' {
				i++
				if i < n && data[i] == '\n' {
					i++
					p.finishMessage()
					return i, nil
				}
				return i, ErrChunkedEncoding
			}
			for i < n && data[i] != '\n' {
				i++
			}
			if i < n {
				i++ // consume the trailer line's LF
			}

		case phDone:
			// Message already completed this call; stop without starting
			// the next message (pipeline detection, spec.md §4.D).
			return i, nil
		}
	}
	return i, nil
}

func (p *Parser) finishMessage() {
	p.state = StateMessageComplete
	if p.cb.OnMessageComplete != nil {
		p.cb.OnMessageComplete()
	}
	// Reset per-message fields but remember nothing needs to survive:
	// the next Execute call starts a fresh message from StateIdle.
	p.methodBuf = p.methodBuf[:0]
	p.protoBuf = p.protoBuf[:0]
	p.hasContentLength = false
	p.hasTransferEnc = false
	p.contentLength = 0
	p.chunked = false
	p.state = StateIdle
	p.ph = phMethod
}

func (p *Parser) finalizeBodyFraming() error {
	if p.hasContentLength && p.hasTransferEnc {
		return ErrContentLengthWithTransferEncoding
	}
	return nil
}

// ObserveHeader lets the caller (which has merged a field/value pair across
// Execute calls) tell the parser about Content-Length / Transfer-Encoding
// so framing can be decided at headers-complete. The parser does not parse
// header values itself (it only hands raw slices to the caller via
// callbacks) so this is how the caller feeds back the two headers that
// control body framing.
func (p *Parser) ObserveHeader(name, value string) error {
	switch {
	case eqFold(name, HeaderContentLength):
		n, perr := strconv.ParseInt(value, 10, 64)
		if perr != nil || n < 0 {
			return ErrInvalidContentLength
		}
		if p.hasContentLength && p.contentLength != n {
			return ErrDuplicateContentLength
		}
		p.hasContentLength = true
		p.contentLength = n
	case eqFold(name, HeaderTransferEncoding):
		p.hasTransferEnc = true
		if eqFold(value, "chunked") {
			p.chunked = true
		}
	}
	return nil
}

// Method returns the accumulated method bytes (valid once phURL is
// reached, i.e. once OnURL has fired at least once).
func (p *Parser) Method() []byte { return p.methodBuf }

// Proto returns the accumulated protocol token ("HTTP/1.1" etc).
func (p *Parser) Proto() []byte { return p.protoBuf }

func isMethodChar(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// parseProto validates and decomposes an "HTTP/major.minor" token.
func parseProto(b []byte) (major, minor int, ok bool) {
	s := string(b)
	if len(s) != 8 || s[:5] != "HTTP/" || s[6] != '.' {
		return 0, 0, false
	}
	if s[5] < '0' || s[5] > '9' || s[7] < '0' || s[7] > '9' {
		return 0, 0, false
	}
	major = int(s[5] - '0')
	minor = int(s[7] - '0')
	if major != 1 || (minor != 0 && minor != 1 && minor != 2) {
		return 0, 0, false
	}
	return major, minor, true
}

func isHex(b byte) bool {
	_, ok := hexVal(b)
	return ok
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
