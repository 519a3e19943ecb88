package relay

import "sort"

// ring is a fixed-capacity circular byte buffer addressed by absolute
// sequence numbers. written is the total number of bytes ever written; the
// retained window is [oldest(), written).
type ring struct {
	buf     []byte
	written uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, capacity)}
}

func (r *ring) capacity() int { return len(r.buf) }

func (r *ring) oldest() uint64 {
	if c := uint64(len(r.buf)); r.written > c {
		return r.written - c
	}
	return 0
}

func (r *ring) buffered() int {
	return int(r.written - r.oldest())
}

// write appends p, overwriting the oldest bytes when full.
func (r *ring) write(p []byte) {
	if over := len(p) - len(r.buf); over > 0 {
		r.written += uint64(over)
		p = p[over:]
	}
	pos := int(r.written % uint64(len(r.buf)))
	n := copy(r.buf[pos:], p)
	copy(r.buf, p[n:])
	r.written += uint64(len(p))
}

// readAt copies bytes starting at seq into p. seq must lie within the
// retained window.
func (r *ring) readAt(seq uint64, p []byte) int {
	if avail := r.written - seq; uint64(len(p)) > avail {
		p = p[:avail]
	}
	pos := int(seq % uint64(len(r.buf)))
	n := copy(p, r.buf[pos:])
	if n < len(p) {
		n += copy(p[n:], r.buf)
	}
	return n
}

// marks is the ascending list of record start sequences still retained.
type marks struct {
	seqs []uint64
}

func (m *marks) push(seq uint64) {
	m.seqs = append(m.seqs, seq)
}

// trim forgets boundaries before oldest.
func (m *marks) trim(oldest uint64) {
	i := sort.Search(len(m.seqs), func(i int) bool { return m.seqs[i] >= oldest })
	if i == 0 {
		return
	}
	if i > len(m.seqs)/2 {
		// Compact so the backing array does not grow without bound.
		m.seqs = append(m.seqs[:0], m.seqs[i:]...)
		return
	}
	m.seqs = m.seqs[i:]
}

// next returns the first boundary at or after seq.
func (m *marks) next(seq uint64) (uint64, bool) {
	i := sort.Search(len(m.seqs), func(i int) bool { return m.seqs[i] >= seq })
	if i == len(m.seqs) {
		return 0, false
	}
	return m.seqs[i], true
}

// after returns the first boundary strictly after seq.
func (m *marks) after(seq uint64) (uint64, bool) {
	return m.next(seq + 1)
}
