package liveserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

func TestServer_GlobalConnectionLimit(t *testing.T) {
	hub := NewHub(nil, &stubLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := NewServer(hub, &stubLogger{}, Options{
		AllowedOrigins: []string{"*"},
		MaxClients:     2,
	})

	s := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	defer s.Close()

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/?investor_id=1"

	dial := func() (*websocket.Conn, *http.Response, error) {
		header := http.Header{}
		header.Set("Origin", "http://localhost")
		return websocket.DefaultDialer.Dial(url, header)
	}

	conn1, _, err := dial()
	assert.NoError(t, err)
	if conn1 != nil {
		defer conn1.Close()
	}

	conn2, _, err := dial()
	assert.NoError(t, err)
	if conn2 != nil {
		defer conn2.Close()
	}

	// Third connection exceeds the cap.
	conn3, resp, err := dial()
	assert.Error(t, err)
	if conn3 != nil {
		conn3.Close()
	}
	if resp != nil {
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	} else {
		t.Error("Expected response with status code, got nil")
	}
}

func TestServer_IPRateLimit(t *testing.T) {
	hub := NewHub(nil, &stubLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := NewServer(hub, &stubLogger{}, Options{
		AllowedOrigins: []string{"*"},
		MaxClients:     100,
		RateLimitPerIP: 1,
		RateBurstPerIP: 1,
	})

	s := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	defer s.Close()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/?investor_id=1"

	dial := func() (*websocket.Conn, *http.Response, error) {
		header := http.Header{}
		header.Set("Origin", "http://localhost")
		return websocket.DefaultDialer.Dial(url, header)
	}

	conn1, _, err := dial()
	assert.NoError(t, err)
	if conn1 != nil {
		defer conn1.Close()
	}

	// Burst of one: the immediate second attempt is throttled.
	conn2, resp, err := dial()
	assert.Error(t, err)
	if conn2 != nil {
		conn2.Close()
	}
	if resp != nil {
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	}
}

func TestServer_ProductionWildcardOrigin(t *testing.T) {
	hub := NewHub(nil, &stubLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := NewServer(hub, &stubLogger{}, Options{
		AllowedOrigins: []string{"*"},
	})
	server.SetProduction(true)

	s := httptest.NewServer(http.HandlerFunc(server.handleWebSocket))
	defer s.Close()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/?investor_id=1"

	header := http.Header{}
	header.Set("Origin", "http://evil.com")

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
