package terminal

import "bytes"

// History is a bounded ring of the most recent bytes received. Once full,
// the oldest bytes are overwritten. It is not safe for concurrent use.
type History struct {
	data  []byte
	head  int
	n     int
	total int64
}

// NewHistory creates a ring holding at most size bytes.
func NewHistory(size int) *History {
	return &History{data: make([]byte, max(size, 1))}
}

// Write appends p, dropping the oldest bytes when the ring overflows.
func (h *History) Write(p []byte) (int, error) {
	written := len(p)
	size := len(h.data)
	h.total += int64(written)
	if len(p) >= size {
		copy(h.data, p[len(p)-size:])
		h.head, h.n = 0, size
		return written, nil
	}

	for len(p) > 0 {
		tail := (h.head + h.n) % size
		c := copy(h.data[tail:], p)
		if tail < h.head {
			c = min(c, h.head-tail)
		}
		p = p[c:]
		h.n += c
		if h.n > size {
			h.head = (h.head + h.n - size) % size
			h.n = size
		}
	}
	return written, nil
}

// Snapshot returns a copy of the buffered bytes, oldest first.
func (h *History) Snapshot() []byte {
	out := make([]byte, h.n)
	end := h.head + h.n
	if end <= len(h.data) {
		copy(out, h.data[h.head:end])
		return out
	}
	k := copy(out, h.data[h.head:])
	copy(out[k:], h.data[:end-len(h.data)])
	return out
}

// Truncated reports whether bytes have been dropped from the front.
func (h *History) Truncated() bool { return h.total > int64(len(h.data)) }

// Replay returns the snapshot from the first whole line on. Once the ring
// has wrapped its oldest line is partial, so it is skipped unless it is the
// only one.
func (h *History) Replay() []byte {
	data := h.Snapshot()
	if !h.Truncated() {
		return data
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 && i < len(data)-1 {
		return data[i+1:]
	}
	return data
}

func (h *History) Len() int { return h.n }

func (h *History) Cap() int { return len(h.data) }
