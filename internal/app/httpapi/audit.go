package httpapi

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

type auditEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}

// auditLog keeps the most recent authenticated requests in a fixed-size ring.
type auditLog struct {
	mu   sync.Mutex
	ring []auditEntry
	next int
	full bool
	sink auditSink
}

type auditSink interface {
	Write(entry auditEntry) error
}

func newAuditLog(capacity int, sink auditSink) *auditLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &auditLog{ring: make([]auditEntry, capacity), sink: sink}
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	l.ring[l.next] = entry
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.full = true
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		// Persistence is best-effort; a failed sink write never fails the request.
		_ = sink.Write(entry)
	}
}

// listLimit returns up to limit entries, oldest first.
func (l *auditLog) listLimit(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ordered []auditEntry
	if l.full {
		ordered = append(ordered, l.ring[l.next:]...)
		ordered = append(ordered, l.ring[:l.next]...)
	} else {
		ordered = append(ordered, l.ring[:l.next]...)
	}
	if limit <= 0 || limit > len(l.ring) {
		limit = len(l.ring)
	}
	if len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}

// fileAuditSink appends entries to a JSONL file.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry auditEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(line, '\n'))
	return err
}
