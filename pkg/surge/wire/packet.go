package wire

import "net"

// fragment is one contiguous byte slice within a Packet, optionally pinned
// alive by an owning Buffer share.
type fragment struct {
	data  []byte
	owner *Buffer // nil for static fragments that need no release
}

// Packet is a write-side buffer list. A Packet starts single-fragment (the
// common case: one header block or one body chunk) and is promoted to
// multi-fragment on the first Append after it already holds data, avoiding
// an allocation on the hot path of a single write.
type Packet struct {
	frags   []fragment // len 0 (empty), 1 (single), or >1 (multi)
	pending []fragment // fragments awaiting Free after a Release
}

// NewPacket returns an empty packet.
func NewPacket() *Packet {
	return &Packet{}
}

// AppendStatic appends a byte slice that needs no ownership tracking
// (a literal, or a slice the caller guarantees outlives the packet).
func (p *Packet) AppendStatic(s []byte) {
	if len(s) == 0 {
		return
	}
	p.frags = append(p.frags, fragment{data: s})
}

// AppendShared appends the buffer's current bytes, taking a share so the
// region stays alive until the packet is released.
func (p *Packet) AppendShared(b *Buffer) {
	if b == nil || b.Len() == 0 {
		return
	}
	share := b.Share(0, b.Len())
	p.frags = append(p.frags, fragment{data: share.data, owner: share})
}

// AppendPacket moves another packet's fragments onto the end of this one,
// chaining ownership. The other packet is left empty.
func (p *Packet) AppendPacket(other *Packet) {
	if other == nil || len(other.frags) == 0 {
		return
	}
	p.frags = append(p.frags, other.frags...)
	other.frags = nil
}

// Size returns the sum of fragment lengths.
func (p *Packet) Size() int {
	n := 0
	for _, f := range p.frags {
		n += len(f.data)
	}
	return n
}

// Empty reports whether the packet carries no bytes.
func (p *Packet) Empty() bool {
	return p.Size() == 0
}

// ToBuffer collapses the packet into a single shared Buffer, copying only
// when more than one fragment is present.
func (p *Packet) ToBuffer() *Buffer {
	switch len(p.frags) {
	case 0:
		return FromStatic(nil)
	case 1:
		return Wrap(p.frags[0].data, p.releaseFragment(0))
	default:
		total := p.Size()
		out := NewOwned(total)
		off := 0
		for _, f := range p.frags {
			off += copy(out.data[off:], f.data)
		}
		p.Release()
		return out
	}
}

func (p *Packet) releaseFragment(i int) func() {
	owner := p.frags[i].owner
	if owner == nil {
		return func() {}
	}
	return owner.Release
}

// Release reveals the packet's fragments as a scatter-gather write vector
// (net.Buffers issues a single writev(2) on Unix) and drops the packet's
// ownership of every fragment's backing buffer. The returned value must be
// written before any further mutation of the buffers it references.
func (p *Packet) Release() net.Buffers {
	out := make(net.Buffers, len(p.frags))
	for i, f := range p.frags {
		out[i] = f.data
	}
	old := p.frags
	p.frags = nil
	p.pending = old
	return out
}

// Free releases every fragment's owning buffer after a Release'd write
// vector has been fully written. Safe to call once per Release.
func (p *Packet) Free() {
	for _, f := range p.pending {
		if f.owner != nil {
			f.owner.Release()
		}
	}
	p.pending = nil
}
