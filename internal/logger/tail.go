package logger

import "sync"

// tailBuffer keeps the most recent log lines for the log API. Once the
// buffer is full each new line overwrites the oldest one.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	total uint64 // lines appended since creation
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{lines: make([]string, capacity)}
}

func (b *tailBuffer) append(line string) {
	b.mu.Lock()
	b.lines[b.total%uint64(len(b.lines))] = line
	b.total++
	b.mu.Unlock()
}

// last returns up to n recent lines, oldest first. n <= 0 returns
// everything buffered.
func (b *tailBuffer) last(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := uint64(len(b.lines))
	count := b.total
	if count > size {
		count = size
	}
	if n > 0 && uint64(n) < count {
		count = uint64(n)
	}

	out := make([]string, 0, count)
	for i := b.total - count; i < b.total; i++ {
		out = append(out, b.lines[i%size])
	}
	return out
}

// Broadcaster pushes log lines to connected WebSocket clients.
type Broadcaster interface {
	Broadcast(msgType string, payload interface{}) error
}

// tailWriter copies each log line into the tail buffer and, once a hub
// is attached, streams it to connected clients.
type tailWriter struct {
	tail *tailBuffer

	mu  sync.RWMutex
	hub Broadcaster
}

func (w *tailWriter) setHub(hub Broadcaster) {
	w.mu.Lock()
	w.hub = hub
	w.mu.Unlock()
}

func (w *tailWriter) Write(p []byte) (int, error) {
	line := string(p)
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	if line == "" {
		return len(p), nil
	}

	w.tail.append(line)

	w.mu.RLock()
	hub := w.hub
	w.mu.RUnlock()
	if hub != nil {
		_ = hub.Broadcast("log:entry", line)
	}
	return len(p), nil
}
