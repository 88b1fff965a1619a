package wire

import "testing"

func TestPacketSingleFragmentFastPath(t *testing.T) {
	p := NewPacket()
	p.AppendStatic([]byte("hello"))
	if p.Size() != 5 {
		t.Fatalf("size = %d, want 5", p.Size())
	}
	if len(p.frags) != 1 {
		t.Fatalf("expected single fragment, got %d", len(p.frags))
	}
}

func TestPacketPromotesToMultiOnSecondAppend(t *testing.T) {
	p := NewPacket()
	p.AppendStatic([]byte("a"))
	p.AppendStatic([]byte("bc"))
	if p.Size() != 3 {
		t.Fatalf("size = %d, want 3", p.Size())
	}
	if len(p.frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(p.frags))
	}
}

func TestPacketToBufferCopiesOnlyWhenMulti(t *testing.T) {
	single := NewPacket()
	single.AppendStatic([]byte("solo"))
	buf := single.ToBuffer()
	if string(buf.Bytes()) != "solo" {
		t.Fatalf("got %q", buf.Bytes())
	}

	multi := NewPacket()
	multi.AppendStatic([]byte("foo"))
	multi.AppendStatic([]byte("bar"))
	buf2 := multi.ToBuffer()
	if string(buf2.Bytes()) != "foobar" {
		t.Fatalf("got %q", buf2.Bytes())
	}
}

func TestPacketAppendPacketChains(t *testing.T) {
	a := NewPacket()
	a.AppendStatic([]byte("1"))
	b := NewPacket()
	b.AppendStatic([]byte("2"))
	b.AppendStatic([]byte("3"))

	a.AppendPacket(b)
	if a.Size() != 3 {
		t.Fatalf("size = %d, want 3", a.Size())
	}
	if !b.Empty() {
		t.Fatalf("expected b drained after AppendPacket")
	}
}

func TestPacketReleaseProducesWriteVector(t *testing.T) {
	p := NewPacket()
	p.AppendStatic([]byte("a"))
	p.AppendStatic([]byte("b"))
	vec := p.Release()
	if len(vec) != 2 {
		t.Fatalf("vector len = %d, want 2", len(vec))
	}
	p.Free()
}
