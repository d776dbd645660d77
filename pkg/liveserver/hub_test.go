package liveserver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"omc/internal/core"
	"omc/internal/eventbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLogger struct{}

func (l *stubLogger) Debug(msg string, fields ...interface{})               {}
func (l *stubLogger) Info(msg string, fields ...interface{})                {}
func (l *stubLogger) Warn(msg string, fields ...interface{})                {}
func (l *stubLogger) Error(msg string, fields ...interface{})               {}
func (l *stubLogger) Fatal(msg string, fields ...interface{})               {}
func (l *stubLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *stubLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func newHubWithBus(t *testing.T) (*Hub, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.NewBus(&stubLogger{})
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() { _ = bus.Stop() })

	hub := NewHub(bus, &stubLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, bus
}

func testEvent(orderID string, investorID int64, status core.OrderStatus) *core.OrderEvent {
	return &core.OrderEvent{
		OrderID:    orderID,
		InvestorID: investorID,
		NewStatus:  status,
		Order: &core.Order{
			OrderID:    orderID,
			InvestorID: investorID,
			Status:     status,
		},
		OccurredAt: time.Now().UTC(),
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ClientCount() == want
	}, 2*time.Second, 5*time.Millisecond)
}

// TestNewHub verifies hub creation
func TestNewHub(t *testing.T) {
	hub := NewHub(nil, nil)

	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.feeds)
	assert.NotNil(t, hub.register)
	assert.NotNil(t, hub.unregister)
}

// TestHubRegisterOpensFeed verifies the first client opens a bus feed and
// receives published events
func TestHubRegisterOpensFeed(t *testing.T) {
	hub, bus := newHubWithBus(t)

	client := NewClient("test-1", 1)
	hub.Register(client)
	waitForClients(t, hub, 1)

	bus.Publish(testEvent("ord-1", 1, core.StatusNew))

	select {
	case received := <-client.GetSendChan():
		assert.Equal(t, TypeOrderUpdate, received.Type)
		event, ok := received.Data.(*core.OrderEvent)
		require.True(t, ok)
		assert.Equal(t, "ord-1", event.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("Client did not receive order update")
	}
}

// TestHubInvestorIsolation verifies clients only see their investor's events
func TestHubInvestorIsolation(t *testing.T) {
	hub, bus := newHubWithBus(t)

	clientA := NewClient("client-a", 1)
	clientB := NewClient("client-b", 2)
	hub.Register(clientA)
	hub.Register(clientB)
	waitForClients(t, hub, 2)

	bus.Publish(testEvent("ord-a", 1, core.StatusNew))

	select {
	case received := <-clientA.GetSendChan():
		assert.Equal(t, TypeOrderUpdate, received.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("Client A did not receive its event")
	}

	select {
	case msg := <-clientB.GetSendChan():
		t.Fatalf("Client B received a stray %s frame", msg.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHubFanOutWithinInvestor verifies all of an investor's clients get the event
func TestHubFanOutWithinInvestor(t *testing.T) {
	hub, bus := newHubWithBus(t)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = NewClient(fmt.Sprintf("client-%d", i), 7)
		hub.Register(clients[i])
	}
	waitForClients(t, hub, 3)
	assert.Equal(t, 3, hub.InvestorClientCount(7))

	bus.Publish(testEvent("ord-7", 7, core.StatusFilled))

	var wg sync.WaitGroup
	wg.Add(len(clients))
	for _, c := range clients {
		go func(c *Client) {
			defer wg.Done()
			select {
			case received := <-c.GetSendChan():
				assert.Equal(t, TypeOrderUpdate, received.Type)
			case <-time.After(2 * time.Second):
				t.Errorf("Client %s did not receive event", c.id)
			}
		}(c)
	}
	wg.Wait()
}

// TestHubLastClientClosesFeed verifies the bus subscription is dropped when
// the last client for an investor leaves
func TestHubLastClientClosesFeed(t *testing.T) {
	hub, _ := newHubWithBus(t)

	client1 := NewClient("test-1", 1)
	client2 := NewClient("test-2", 1)
	hub.Register(client1)
	hub.Register(client2)
	waitForClients(t, hub, 2)

	feedCount := func() int {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.feeds)
	}
	assert.Equal(t, 1, feedCount(), "one investor, one feed")

	hub.Unregister(client1)
	waitForClients(t, hub, 1)
	assert.Equal(t, 1, feedCount(), "feed stays while a client remains")

	hub.Unregister(client2)
	waitForClients(t, hub, 0)
	assert.Equal(t, 0, feedCount(), "last client out closes the feed")
}

// TestHubShutdown verifies graceful shutdown
func TestHubShutdown(t *testing.T) {
	bus := eventbus.NewBus(&stubLogger{})
	require.NoError(t, bus.Start(context.Background()))
	defer func() { _ = bus.Stop() }()

	hub := NewHub(bus, &stubLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := NewClient("test-1", 1)
	hub.Register(client)
	waitForClients(t, hub, 1)

	cancel()

	require.Eventually(t, func() bool {
		return hub.ClientCount() == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Registering after shutdown closes the client instead of blocking.
	late := NewClient("late", 1)
	hub.Register(late)
	assert.False(t, late.Send(Message{Type: TypeWelcome}))
}

// TestClientSend verifies client send functionality
func TestClientSend(t *testing.T) {
	client := NewClient("test", 1)

	msg := NewWelcomeMessage(1)
	success := client.Send(msg)

	assert.True(t, success)

	received := <-client.GetSendChan()
	assert.Equal(t, msg, received)
}

// TestClientSendWhenClosed verifies send fails when client is closed
func TestClientSendWhenClosed(t *testing.T) {
	client := NewClient("test", 1)
	client.Close()

	success := client.Send(NewWelcomeMessage(1))

	assert.False(t, success)
}

// TestSlowClientDropsFrames verifies a full client buffer drops frames
// without wedging delivery
func TestSlowClientDropsFrames(t *testing.T) {
	hub, _ := newHubWithBus(t)

	slow := NewClient("slow-client", 1)
	hub.Register(slow)
	waitForClients(t, hub, 1)

	// The client buffer is 256; nobody drains it.
	for i := 0; i < 300; i++ {
		hub.deliver(1, NewOrderUpdateMessage(testEvent(fmt.Sprintf("ord-%d", i), 1, core.StatusNew)))
	}

	// Delivery kept going and the client is still registered.
	assert.Equal(t, 1, hub.ClientCount())
	assert.Equal(t, 256, len(slow.send))
}

// TestMessageConstants verifies message type constants
func TestMessageConstants(t *testing.T) {
	require.Equal(t, "order_update", TypeOrderUpdate)
	require.Equal(t, "welcome", TypeWelcome)
}

// TestNewOrderUpdateMessage verifies the wire wrapping
func TestNewOrderUpdateMessage(t *testing.T) {
	event := testEvent("ord-1", 1, core.StatusSettled)
	msg := NewOrderUpdateMessage(event)

	assert.Equal(t, TypeOrderUpdate, msg.Type)
	assert.Equal(t, event, msg.Data)
}

// BenchmarkHubDeliver benchmarks fan-out to one investor's clients
func BenchmarkHubDeliver(b *testing.B) {
	hub := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	for i := 0; i < 100; i++ {
		client := NewClient(fmt.Sprintf("client-%d", i), 1)
		hub.Register(client)
		go func(c *Client) {
			for range c.GetSendChan() {
			}
		}(client)
	}
	for hub.ClientCount() < 100 {
		time.Sleep(time.Millisecond)
	}

	msg := NewOrderUpdateMessage(testEvent("ord-1", 1, core.StatusFilled))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.deliver(1, msg)
	}
}
