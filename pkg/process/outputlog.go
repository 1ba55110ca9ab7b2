package process

import "sync"

// OutputLog is an append-only text log keyed by session name. Hosts that
// cannot hand the transport a readable stdout stream append captured output
// here instead, and the transport's polling path reads the growth since its
// last observation. The log is an explicit dependency passed to the
// transport, never a package-level singleton, so concurrent sessions stay
// independent.
type OutputLog struct {
	mu   sync.RWMutex
	logs map[string]string
}

func NewOutputLog() *OutputLog {
	return &OutputLog{logs: make(map[string]string)}
}

// Append adds text to the named session's log.
func (l *OutputLog) Append(name, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[name] += text
}

// Snapshot returns the full accumulated text for the named session.
func (l *OutputLog) Snapshot(name string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logs[name]
}

// Len returns the accumulated length for the named session without copying.
func (l *OutputLog) Len(name string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.logs[name])
}

// Since returns the text appended after the first n bytes. The transport's
// polling path tracks n itself so the same bytes are never ingested twice.
func (l *OutputLog) Since(name string, n int) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	full := l.logs[name]
	if n >= len(full) {
		return ""
	}
	return full[n:]
}
