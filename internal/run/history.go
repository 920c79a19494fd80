package run

// DefaultHistoryDepth is the number of step summaries fed back into prompts.
const DefaultHistoryDepth = 5

// Entry is one retained step summary.
type Entry struct {
	Step int
	// Failure marks entries that carry a failure digest.
	Failure bool
	Text    string
}

// History is a fixed-capacity ring of the most recent entries.
type History struct {
	buf   []Entry
	start int
	size  int
}

// NewHistory returns a History holding at most depth entries.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History{buf: make([]Entry, depth)}
}

// Add appends e, evicting the oldest entry when full.
func (h *History) Add(e Entry) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = e
		h.size++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % len(h.buf)
}

// Entries returns the retained entries, oldest first.
func (h *History) Entries() []Entry {
	out := make([]Entry, h.size)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of entries held.
func (h *History) Len() int { return h.size }

// Cap returns the maximum number of entries kept.
func (h *History) Cap() int { return len(h.buf) }
