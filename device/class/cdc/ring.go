package cdc

// ring is a fixed-capacity byte FIFO. It is not locked.
type ring struct {
	buf   []byte
	head  int // next byte to read
	count int
}

func newRing(size int) ring {
	return ring{buf: make([]byte, size)}
}

// Len returns the number of buffered bytes.
func (r *ring) Len() int { return r.count }

// Free returns the number of bytes that can be written.
func (r *ring) Free() int { return len(r.buf) - r.count }

// Cap returns the ring capacity.
func (r *ring) Cap() int { return len(r.buf) }

// Reset discards all buffered bytes.
func (r *ring) Reset() {
	r.head = 0
	r.count = 0
}

// Write appends p if it fits entirely and reports whether it did.
func (r *ring) Write(p []byte) bool {
	if len(p) > r.Free() {
		return false
	}
	tail := (r.head + r.count) % len(r.buf)
	n := copy(r.buf[tail:], p)
	copy(r.buf, p[n:])
	r.count += len(p)
	return true
}

// Read moves up to len(p) bytes into p.
func (r *ring) Read(p []byte) int {
	n := min(len(p), r.count)
	k := copy(p[:n], r.buf[r.head:])
	copy(p[k:n], r.buf)
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	if r.count == 0 {
		r.head = 0
	}
	return n
}
