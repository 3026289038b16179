package audit

import (
	"sync"

	"go.uber.org/zap"
)

// Sink delivers a high-risk event to an external destination such as a
// webhook or mail gateway. Delivery is best-effort: a failing sink is logged
// and never propagates back to the audit write path.
type Sink interface {
	Deliver(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Deliver(ev Event) error { return f(ev) }

// Notifier drains the log's bounded notification channel and pushes events
// into a Sink on its own goroutine, keeping slow or failing delivery off the
// audit write path.
type Notifier struct {
	ch     <-chan Event
	sink   Sink
	logger *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewNotifier wires a notifier to a log's notification channel. A nil logger
// falls back to zap.NewNop.
func NewNotifier(l *Log, sink Sink, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		ch:     l.Notifications(),
		sink:   sink,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (n *Notifier) Start() {
	go n.run()
}

// Stop terminates delivery. Already-dequeued events finish delivering;
// anything still buffered in the channel is abandoned.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
	<-n.done
}

func (n *Notifier) run() {
	defer close(n.done)
	for {
		select {
		case <-n.stop:
			return
		case ev := <-n.ch:
			if err := n.sink.Deliver(ev); err != nil {
				n.logger.Warn("alert delivery failed",
					zap.String("event_id", ev.ID),
					zap.String("event_name", ev.Name),
					zap.Error(err),
				)
			}
		}
	}
}
