// Package eventbus fans order lifecycle events out to per-investor
// subscribers after the owning transaction has committed. Delivery is
// best-effort: a publisher is never blocked and a slow subscriber loses
// events rather than stalling the engine.
package eventbus

import (
	"context"
	"sync"

	"omc/internal/core"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omc_eventbus_published_total",
		Help: "Total number of order events accepted for dispatch",
	})

	eventsDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "omc_eventbus_delivered_total",
		Help: "Total number of order events delivered to subscribers",
	})

	eventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "omc_eventbus_dropped_total",
		Help: "Total number of order events dropped",
	}, []string{"reason"})

	activeSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "omc_eventbus_subscribers",
		Help: "Current number of event bus subscribers",
	})
)

func init() {
	prometheus.MustRegister(eventsPublishedTotal)
	prometheus.MustRegister(eventsDeliveredTotal)
	prometheus.MustRegister(eventsDroppedTotal)
	prometheus.MustRegister(activeSubscribers)
}

const (
	publishQueueSize = 256
	subscriberBuffer = 64
)

// Subscription is one subscriber's buffered view of an investor's events.
type Subscription struct {
	bus        *Bus
	investorID int64
	events     chan *core.OrderEvent
	closed     bool
}

// Events returns the receive side of the subscription. The channel is
// closed when the subscription or the bus shuts down.
func (s *Subscription) Events() <-chan *core.OrderEvent {
	return s.events
}

// Close detaches the subscription from the bus and closes its channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s)
}

// Bus is the in-process event bus. A single dispatch goroutine drains the
// publish queue so subscribers observe one investor's events in commit order.
type Bus struct {
	queue  chan *core.OrderEvent
	logger core.ILogger

	mu   sync.RWMutex
	subs map[int64]map[*Subscription]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBus creates an event bus. Start must be called before events flow.
func NewBus(logger core.ILogger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		queue:  make(chan *core.OrderEvent, publishQueueSize),
		subs:   make(map[int64]map[*Subscription]struct{}),
		logger: logger.WithField("component", "event_bus"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the dispatch loop.
func (b *Bus) Start(ctx context.Context) error {
	b.logger.Info("Starting event bus")
	b.wg.Add(1)
	go b.dispatchLoop()
	return nil
}

// Stop drains nothing: pending events are dropped, all subscriptions are
// closed, and the dispatch loop exits.
func (b *Bus) Stop() error {
	b.logger.Info("Stopping event bus")
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.subs {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.events)
				activeSubscribers.Dec()
			}
		}
	}
	b.subs = make(map[int64]map[*Subscription]struct{})
	return nil
}

// Publish enqueues an event for dispatch. It never blocks: when the queue
// is full the event is dropped and counted.
func (b *Bus) Publish(event *core.OrderEvent) {
	if event == nil {
		return
	}
	select {
	case b.queue <- event:
		eventsPublishedTotal.Inc()
	default:
		eventsDroppedTotal.WithLabelValues("queue_full").Inc()
		b.logger.Warn("Event queue full, dropping event",
			"order_id", event.OrderID, "status", event.NewStatus)
	}
}

// Subscribe registers a subscriber for one investor's events.
func (b *Bus) Subscribe(investorID int64) core.ISubscription {
	sub := &Subscription{
		bus:        b,
		investorID: investorID,
		events:     make(chan *core.OrderEvent, subscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[investorID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[investorID] = set
	}
	set[sub] = struct{}{}
	activeSubscribers.Inc()

	b.logger.Debug("Subscriber attached", "investor_id", investorID)
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true

	if set, ok := b.subs[sub.investorID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.investorID)
		}
	}
	close(sub.events)
	activeSubscribers.Dec()

	b.logger.Debug("Subscriber detached", "investor_id", sub.investorID)
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.queue:
			b.dispatch(event)
		}
	}
}

// dispatch delivers one event to every subscriber of its investor. The read
// lock is held across the sends so a concurrent Close cannot close a channel
// mid-send; sends are non-blocking so the lock is held only briefly.
func (b *Bus) dispatch(event *core.OrderEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[event.InvestorID] {
		if sub.closed {
			continue
		}
		select {
		case sub.events <- event:
			eventsDeliveredTotal.Inc()
		default:
			eventsDroppedTotal.WithLabelValues("subscriber_full").Inc()
			b.logger.Warn("Subscriber buffer full, dropping event",
				"investor_id", event.InvestorID, "order_id", event.OrderID)
		}
	}
}
