// Package audit keeps the user facing notifications of every transform.
package audit

import (
	"sync"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// NotificationsCollection receives a copy of every notification when a
// Writer is configured
const NotificationsCollection = ".pivot-notifications"

// DefaultCapacity is the number of notifications kept per transform
const DefaultCapacity = 100

// Level of a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one audit message
type Notification struct {
	ID          string    `json:"id"`
	TransformID string    `json:"transform_id"`
	Timestamp   time.Time `json:"timestamp"`
	Level       Level     `json:"level"`
	Message     string    `json:"message"`
}

// Writer persists notifications
type Writer interface {
	Insert(collName string, doc domain.Document) (domain.Document, error)
}

// Auditor records notifications in a bounded ring per transform
type Auditor struct {
	mu       sync.RWMutex
	rings    map[string]*ring
	capacity int
	writer   Writer
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures an Auditor
type Option func(*Auditor)

// WithCapacity sets how many notifications are kept per transform
func WithCapacity(n int) Option {
	return func(a *Auditor) {
		if n > 0 {
			a.capacity = n
		}
	}
}

// WithWriter mirrors notifications into NotificationsCollection
func WithWriter(w Writer) Option {
	return func(a *Auditor) {
		a.writer = w
	}
}

// WithClock sets the notification clock
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) {
		a.now = now
	}
}

// New creates an auditor
func New(opts ...Option) *Auditor {
	a := &Auditor{
		rings:    make(map[string]*ring),
		capacity: DefaultCapacity,
		logger:   logging.WithComponent("audit"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Auditor) Info(transformID, message string) {
	a.record(transformID, LevelInfo, message)
}

func (a *Auditor) Warning(transformID, message string) {
	a.record(transformID, LevelWarning, message)
}

func (a *Auditor) Error(transformID, message string) {
	a.record(transformID, LevelError, message)
}

func (a *Auditor) record(transformID string, level Level, message string) {
	n := Notification{
		ID:          uuid.NewString(),
		TransformID: transformID,
		Timestamp:   a.now().UTC(),
		Level:       level,
		Message:     message,
	}

	a.mu.Lock()
	r, ok := a.rings[transformID]
	if !ok {
		r = newRing(a.capacity)
		a.rings[transformID] = r
	}
	r.push(n)
	a.mu.Unlock()

	var event *zerolog.Event
	switch level {
	case LevelError:
		event = a.logger.Error()
	case LevelWarning:
		event = a.logger.Warn()
	default:
		event = a.logger.Info()
	}
	event.Str("transform_id", transformID).Str("audit_id", n.ID).Msg(message)

	if a.writer != nil {
		_, err := a.writer.Insert(NotificationsCollection, domain.Document{
			domain.IDField: n.ID,
			"transform_id": n.TransformID,
			"timestamp":    n.Timestamp.Format(time.RFC3339Nano),
			"level":        string(n.Level),
			"message":      n.Message,
		})
		if err != nil {
			a.logger.Warn().Err(err).Str("transform_id", transformID).Msg("failed to persist audit notification")
		}
	}
}

// Notifications returns the kept notifications of a transform, newest first
func (a *Auditor) Notifications(transformID string) []Notification {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.rings[transformID]
	if !ok {
		return []Notification{}
	}
	out := r.items()
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Forget drops the notifications of a deleted transform
func (a *Auditor) Forget(transformID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rings, transformID)
}

// ring is a fixed size buffer overwriting its oldest entry
type ring struct {
	buf  []Notification
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Notification, capacity)}
}

func (r *ring) push(n Notification) {
	r.buf[r.next] = n
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// items returns the entries oldest first
func (r *ring) items() []Notification {
	if !r.full {
		return append([]Notification(nil), r.buf[:r.next]...)
	}
	out := make([]Notification, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
