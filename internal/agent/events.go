// internal/agent/events.go
package agent

import (
	"sync"

	"go.uber.org/zap"
)

// TaskObserver receives progress callbacks from a running task. Every
// registered observer sees every event in the exact order the loop produced
// it. Callbacks run on a dedicated delivery goroutine per observer, so a slow
// or panicking observer can never stall the loop or its peers.
type TaskObserver interface {
	OnTaskStarted(description string)
	OnStepStarted(stepIndex int)
	OnThinkingUpdate(partialText string)
	OnActionExecuted(actionDisplayText string)
	OnTaskPaused(stepIndex int)
	OnTaskResumed(stepIndex int)
	OnTaskCompleted(success bool, message string, stepCount int)
	OnTaskFailed(reason string, stepCount int)
	OnStatusChanged(status AgentState)
}

type eventKind int

const (
	evTaskStarted eventKind = iota
	evStepStarted
	evThinkingUpdate
	evActionExecuted
	evTaskPaused
	evTaskResumed
	evTaskCompleted
	evTaskFailed
	evStatusChanged
)

// event is the internal envelope fanned out to observers.
type event struct {
	kind      eventKind
	text      string
	stepIndex int
	status    AgentState
	success   bool
	stepCount int
}

// EventBus fans task events out to registered observers. Publishing never
// blocks: each subscriber owns an unbounded FIFO queue drained by its own
// goroutine. Adding and removing observers is safe while a task runs.
type EventBus struct {
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	obs    TaskObserver
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []event
	closed bool
	done   chan struct{}
}

// NewEventBus creates the bus.
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		logger: logger.Named("events"),
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe registers an observer and returns its unsubscribe function.
// Unsubscribing is idempotent and waits for the observer's queue to drain.
func (b *EventBus) Subscribe(obs TaskObserver) func() {
	sub := &subscriber{
		obs:    obs,
		logger: b.logger,
		done:   make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.done)
		return func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.stop()
			<-sub.done
		})
	}
}

// publish enqueues the event for every current subscriber. Never blocks.
func (b *EventBus) publish(evt event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(evt)
	}
}

// Close stops delivery after draining every subscriber's queue.
func (b *EventBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[int]*subscriber)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
		<-s.done
	}
}

func (s *subscriber) enqueue(evt event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

// run drains the queue in order until stopped, delivering any events that
// were enqueued before the stop.
func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, evt := range batch {
			s.deliver(evt)
		}
	}
}

// deliver invokes one observer callback, isolating panics so a faulty
// observer cannot take down the delivery goroutine.
func (s *subscriber) deliver(evt event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Observer panicked during event delivery.", zap.Any("panic_value", r))
		}
	}()

	switch evt.kind {
	case evTaskStarted:
		s.obs.OnTaskStarted(evt.text)
	case evStepStarted:
		s.obs.OnStepStarted(evt.stepIndex)
	case evThinkingUpdate:
		s.obs.OnThinkingUpdate(evt.text)
	case evActionExecuted:
		s.obs.OnActionExecuted(evt.text)
	case evTaskPaused:
		s.obs.OnTaskPaused(evt.stepIndex)
	case evTaskResumed:
		s.obs.OnTaskResumed(evt.stepIndex)
	case evTaskCompleted:
		s.obs.OnTaskCompleted(evt.success, evt.text, evt.stepCount)
	case evTaskFailed:
		s.obs.OnTaskFailed(evt.text, evt.stepCount)
	case evStatusChanged:
		s.obs.OnStatusChanged(evt.status)
	}
}

// Typed publication helpers used by the orchestrator.

func (b *EventBus) TaskStarted(description string) {
	b.publish(event{kind: evTaskStarted, text: description})
}

func (b *EventBus) StepStarted(stepIndex int) {
	b.publish(event{kind: evStepStarted, stepIndex: stepIndex})
}

func (b *EventBus) ThinkingUpdate(partial string) {
	b.publish(event{kind: evThinkingUpdate, text: partial})
}

func (b *EventBus) ActionExecuted(display string) {
	b.publish(event{kind: evActionExecuted, text: display})
}

func (b *EventBus) TaskPaused(stepIndex int) {
	b.publish(event{kind: evTaskPaused, stepIndex: stepIndex})
}

func (b *EventBus) TaskResumed(stepIndex int) {
	b.publish(event{kind: evTaskResumed, stepIndex: stepIndex})
}

func (b *EventBus) TaskCompleted(success bool, message string, stepCount int) {
	b.publish(event{kind: evTaskCompleted, success: success, text: message, stepCount: stepCount})
}

func (b *EventBus) TaskFailed(reason string, stepCount int) {
	b.publish(event{kind: evTaskFailed, text: reason, stepCount: stepCount})
}

func (b *EventBus) StatusChanged(status AgentState) {
	b.publish(event{kind: evStatusChanged, status: status})
}
