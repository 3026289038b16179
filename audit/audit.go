// Package audit provides an append-only, bounded, in-memory event log with
// deterministic risk classification, filtered queries, compliance reporting
// and export. Every other component of the security core writes into it.
package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the ring buffer when no capacity is configured.
const DefaultCapacity = 10_000

// DefaultNotifyBuffer is the size of the bounded notification channel.
const DefaultNotifyBuffer = 256

// Result is the outcome recorded on an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultWarning Result = "warning"
)

// RiskLevel is the severity tier assigned to an event by ClassifyRisk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Event is an immutable audit record. Once appended it is never mutated;
// eviction from the ring buffer is the only way it disappears.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Name         string         `json:"event_name"`
	UserID       string         `json:"user_id"`
	Role         string         `json:"role,omitempty"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Action       string         `json:"action"`
	Result       Result         `json:"result"`
	Details      map[string]any `json:"details,omitempty"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
}

// Entry carries the caller-supplied fields of an event. Everything derived
// (id, timestamp, result, risk level) is computed by the log.
type Entry struct {
	Name         string
	UserID       string
	Details      map[string]any
	ResourceType string
	ResourceID   string
	Role         string
	IP           string
	UserAgent    string
	SessionID    string

	// Action defaults to Name when empty.
	Action string
}

// Recorder is the write-side interface components depend on, so tests and
// tools can swap in a no-op implementation.
type Recorder interface {
	Record(Entry) Event
}

// Options configures a Log.
type Options struct {
	// Capacity of the ring buffer; DefaultCapacity when <= 0.
	Capacity int

	// NotifyBuffer sizes the bounded notification channel;
	// DefaultNotifyBuffer when <= 0.
	NotifyBuffer int

	// Clock is the time source; time.Now when nil. Injectable for tests.
	Clock func() time.Time
}

// Log is the audit log. The event store is a ring buffer with a hard size
// bound: once capacity is reached the oldest event is evicted on every
// append. All access is guarded by a single RWMutex owned by this structure
// alone, so a slow export elsewhere never stalls appends.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	next     int
	size     int
	capacity int

	clock    func() time.Time
	notifyCh chan Event
	dropped  atomic.Uint64
}

// New creates an audit log.
func New(opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.NotifyBuffer <= 0 {
		opts.NotifyBuffer = DefaultNotifyBuffer
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Log{
		events:   make([]Event, opts.Capacity),
		capacity: opts.Capacity,
		clock:    opts.Clock,
		notifyCh: make(chan Event, opts.NotifyBuffer),
	}
}

// Record classifies and appends an event, evicting the oldest entry when the
// buffer is full, and returns the stored event. High and critical events are
// additionally published to the notification channel; when the channel is
// full the notification is dropped and counted rather than blocking the
// append path.
func (l *Log) Record(e Entry) Event {
	action := e.Action
	if action == "" {
		action = e.Name
	}

	ev := Event{
		ID:           uuid.NewString(),
		Timestamp:    l.clock().UTC(),
		Name:         e.Name,
		UserID:       e.UserID,
		Role:         e.Role,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Action:       action,
		Result:       classifyResult(e.Name, e.Details),
		Details:      e.Details,
		RiskLevel:    ClassifyRisk(e.Name),
		IP:           e.IP,
		UserAgent:    e.UserAgent,
		SessionID:    e.SessionID,
	}

	l.mu.Lock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % l.capacity
	if l.size < l.capacity {
		l.size++
	}
	l.mu.Unlock()

	if ev.RiskLevel == RiskHigh || ev.RiskLevel == RiskCritical {
		select {
		case l.notifyCh <- ev:
		default:
			l.dropped.Add(1)
		}
	}

	return ev
}

// Log records an event with just a name, user and details. Shorthand for
// Record with an Entry.
func (l *Log) Log(name, userID string, details map[string]any) Event {
	return l.Record(Entry{Name: name, UserID: userID, Details: details})
}

// Notifications exposes the bounded channel carrying high and critical
// events, intended to be drained by a Notifier.
func (l *Log) Notifications() <-chan Event {
	return l.notifyCh
}

// DroppedNotifications returns how many high-risk notifications were dropped
// because the channel was full.
func (l *Log) DroppedNotifications() uint64 {
	return l.dropped.Load()
}

// Size returns the number of events currently retained.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the configured hard size bound.
func (l *Log) Capacity() int {
	return l.capacity
}

// Filter selects events for Query and Export. All set fields are combined
// with AND. Limit/Offset paginate after filtering and sorting.
type Filter struct {
	Start        *time.Time
	End          *time.Time
	UserID       string
	Name         string
	Result       Result
	RiskLevel    RiskLevel
	ResourceType string
	Limit        int
	Offset       int
}

// Query returns matching events sorted newest-first.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	// Snapshot newest-first: the newest event sits just before next.
	matched := make([]Event, 0, l.size)
	for i := 0; i < l.size; i++ {
		idx := (l.next - 1 - i + l.capacity) % l.capacity
		ev := l.events[idx]
		if f.matches(ev) {
			matched = append(matched, ev)
		}
	}
	l.mu.RUnlock()

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched
}

func (f Filter) matches(ev Event) bool {
	if f.Start != nil && ev.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && ev.Timestamp.After(*f.End) {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.Name != "" && ev.Name != f.Name {
		return false
	}
	if f.Result != "" && ev.Result != f.Result {
		return false
	}
	if f.RiskLevel != "" && ev.RiskLevel != f.RiskLevel {
		return false
	}
	if f.ResourceType != "" && ev.ResourceType != f.ResourceType {
		return false
	}
	return true
}

// NoOp is a Recorder that discards everything. Useful in tests and tools
// that do not care about the trail.
type NoOp struct{}

func (NoOp) Record(Entry) Event { return Event{} }
