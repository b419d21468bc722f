package materializer

import "fmt"

// Trail collects the human-readable steps of one call.
type Trail struct {
	lines []string
}

func (t *Trail) Add(format string, args ...interface{}) {
	if t == nil {
		return
	}
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}

func (t *Trail) Lines() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}
