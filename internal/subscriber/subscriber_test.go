package subscriber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StergiosCha/perpatame/internal/domain"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	data, _ := json.Marshal(v)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("write: %v", err)
	}
}

func approvedEvent(seq uint64, id string) domain.Envelope {
	return domain.Envelope{Type: domain.EventStoryApproved, Seq: seq, Data: domain.Story{ID: id, Status: domain.StatusApproved}}
}

type recorder struct {
	mu       sync.Mutex
	hydrates int
	events   []string
	stats    []domain.Stats
	states   []State
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnHydrate: func(h domain.Hydration) {
			r.mu.Lock()
			r.hydrates++
			r.mu.Unlock()
		},
		OnEvent: func(e domain.Event) {
			r.mu.Lock()
			r.events = append(r.events, e.Snapshot().ID)
			r.mu.Unlock()
		},
		OnStats: func(s domain.Stats) {
			r.mu.Lock()
			r.stats = append(r.stats, s)
			r.mu.Unlock()
		},
		OnState: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() (int, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hydrates, append([]string(nil), r.events...)
}

func TestReconnectRehydratesAndDropsDuplicates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var sessions atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		switch sessions.Add(1) {
		case 1:
			send(t, conn, domain.DisplayHydration{Type: domain.MsgTypeHydrate, Channel: domain.ChannelDisplay, Seq: 5})
			send(t, conn, approvedEvent(5, "old"))
			send(t, conn, approvedEvent(6, "a"))
			send(t, conn, approvedEvent(6, "a"))
			send(t, conn, domain.StatsMessage{Type: domain.MsgTypeStats, Data: domain.Stats{Approved: 1}})
			// Drop the connection without a close frame.
		default:
			send(t, conn, domain.DisplayHydration{Type: domain.MsgTypeHydrate, Channel: domain.ChannelDisplay, Seq: 6})
			send(t, conn, approvedEvent(7, "b"))
			conn.ReadMessage()
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	cfg := DefaultConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.MinBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	sub := New(cfg, rec.handlers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool {
		_, events := rec.snapshot()
		return len(events) == 2
	})
	hydrates, events := rec.snapshot()
	if hydrates != 2 {
		t.Errorf("Expected 2 hydrations, got %d", hydrates)
	}
	if strings.Join(events, ",") != "a,b" {
		t.Errorf("Expected events a,b got %v", events)
	}
	if sub.State() != StateOpen {
		t.Errorf("Expected open, got %s", sub.State())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if sub.State() != StateDisconnected {
		t.Errorf("Expected disconnected after Run returns, got %s", sub.State())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	sawBackoff := false
	for _, s := range rec.states {
		if s == StateBackoff {
			sawBackoff = true
		}
	}
	if !sawBackoff {
		t.Errorf("Expected a backoff between sessions, got %v", rec.states)
	}
	if len(rec.stats) != 1 || rec.stats[0].Approved != 1 {
		t.Errorf("Expected one stats update, got %v", rec.stats)
	}
}

func TestHeartbeatSendsPing(t *testing.T) {
	upgrader := websocket.Upgrader{}
	pings := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case pings <- string(msg):
			default:
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	cfg.Heartbeat = 30 * time.Millisecond
	sub := New(cfg, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sub.Run(ctx)

	select {
	case msg := <-pings:
		if msg != "ping" {
			t.Errorf("Expected ping, got %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestBackoffGrowsAndIsCapped(t *testing.T) {
	sub := New(Config{MinBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}, Handlers{})

	prevMax := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		sub.attempt = attempt
		d := sub.backoff()
		ceiling := min(100*time.Millisecond<<attempt, time.Second)
		if d > ceiling || d < ceiling*4/5 {
			t.Errorf("attempt %d: backoff %s outside [%s, %s]", attempt, d, ceiling*4/5, ceiling)
		}
		if ceiling < prevMax {
			t.Errorf("attempt %d: ceiling decreased", attempt)
		}
		prevMax = ceiling
	}
}

func TestRunStopsWhileBackingOff(t *testing.T) {
	sub := New(Config{URL: "ws://127.0.0.1:1/ws/display", MinBackoff: time.Hour, MaxBackoff: time.Hour}, Handlers{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	waitFor(t, 3*time.Second, func() bool { return sub.State() == StateBackoff })
	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
