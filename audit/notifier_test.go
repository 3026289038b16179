package audit

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Deliver(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestNotifierDeliversHighRiskEvents(t *testing.T) {
	log := New(Options{})
	sink := &captureSink{}
	notifier := NewNotifier(log, sink, nil)
	notifier.Start()
	defer notifier.Stop()

	log.Record(Entry{Name: "credential_created", UserID: "alice"})
	log.Record(Entry{Name: "security_breach"})
	log.Record(Entry{Name: "credential_used"}) // low risk, not notified

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.count(); got != 2 {
		t.Errorf("Expected 2 delivered events, got %d", got)
	}
}

func TestNotifierSurvivesFailingSink(t *testing.T) {
	log := New(Options{})
	failing := SinkFunc(func(Event) error { return errors.New("sink down") })
	notifier := NewNotifier(log, failing, nil)
	notifier.Start()

	log.Record(Entry{Name: "credential_created"})
	log.Record(Entry{Name: "credential_deleted"})

	// Failing delivery must not wedge the notifier or the log.
	time.Sleep(50 * time.Millisecond)
	notifier.Stop()

	if log.Size() != 2 {
		t.Errorf("Audit writes must be unaffected by sink failures, size %d", log.Size())
	}
}
