package config

import "testing"

func TestConnConfigCarriesGuardrails(t *testing.T) {
	c := DefaultConfig()
	cc := c.ConnConfig()
	if cc.MaxInitialRequestBytes != c.MaxInitialRequestBytes {
		t.Fatalf("MaxInitialRequestBytes = %d, want %d", cc.MaxInitialRequestBytes, c.MaxInitialRequestBytes)
	}
	if cc.InitialRequestTimeout != c.RequestTimeout {
		t.Fatalf("InitialRequestTimeout = %v, want %v", cc.InitialRequestTimeout, c.RequestTimeout)
	}
}

func TestServerConfigCarriesListenAddresses(t *testing.T) {
	c := DefaultConfig()
	c.ListenAddresses = []string{"127.0.0.1:9000"}
	sc := c.ServerConfig()
	if len(sc.ListenAddresses) != 1 || sc.ListenAddresses[0] != "127.0.0.1:9000" {
		t.Fatalf("ListenAddresses = %v", sc.ListenAddresses)
	}
}

func TestNewStaticHandlerNilWithoutURLBase(t *testing.T) {
	c := DefaultConfig()
	if h := c.NewStaticHandler(); h != nil {
		t.Fatal("expected nil handler when StaticFile.URLBase is empty")
	}
}

func TestNewStaticHandlerBuiltWithURLBase(t *testing.T) {
	c := DefaultConfig()
	c.StaticFile.URLBase = "/static"
	c.StaticFile.PathBase = t.TempDir()
	if h := c.NewStaticHandler(); h == nil {
		t.Fatal("expected a non-nil handler once URLBase is set")
	}
}
