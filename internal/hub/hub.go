package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/metrics"
	"github.com/StergiosCha/perpatame/pkg/log"
)

var (
	ErrHubStopped     = errors.New("hub stopped")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrClientClosed   = errors.New("client closed")
)

const (
	reasonClientClosed = metrics.ReasonClientClosed
	reasonBackpressure = metrics.ReasonBackpressure
	reasonLiveness     = metrics.ReasonLiveness
	reasonShutdown     = metrics.ReasonShutdown
)

// Config tunes connection pumps and the liveness sweep.
type Config struct {
	PingInterval    time.Duration
	LivenessTimeout time.Duration
	WriteWait       time.Duration
	SweepInterval   time.Duration
	MaxMessageSize  int64
	SendBuffer      int
}

// DefaultConfig returns settings for clients heartbeating every 25s.
func DefaultConfig() Config {
	return Config{
		PingInterval:    20 * time.Second,
		LivenessTimeout: 60 * time.Second,
		WriteWait:       10 * time.Second,
		SweepInterval:   15 * time.Second,
		MaxMessageSize:  4096,
		SendBuffer:      256,
	}
}

// Hub is the registry of live connections, partitioned by channel, and
// the dispatcher that fans serialized messages out to them.
//
// Publishing never blocks on a connection: each has its own buffer and a
// connection whose buffer is full is closed so it reconnects and
// re-hydrates. Publish and Attach on one channel are serialized, so every
// connection sees that channel's messages in the same order and its
// hydration before anything published after it.
//
// Lock order: publish lock, then mu, then a client's own lock.
type Hub struct {
	clients  map[string]*Client
	channels map[domain.Channel]map[string]*Client
	publish  map[domain.Channel]*sync.Mutex
	mu       sync.RWMutex
	config   Config
	stopped  bool
}

func NewHub(cfg Config) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}

	h := &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[domain.Channel]map[string]*Client),
		publish:  make(map[domain.Channel]*sync.Mutex),
		config:   cfg,
	}
	for _, ch := range domain.AllChannels {
		h.channels[ch] = make(map[string]*Client)
		h.publish[ch] = &sync.Mutex{}
	}
	return h
}

// Attach opens c on its channel. hydrate is enqueued first, ahead of
// any message published after Attach returns.
func (h *Hub) Attach(c *Client, hydrate []byte) error {
	pub, ok := h.publish[c.Channel]
	if !ok {
		return ErrUnknownChannel
	}

	pub.Lock()
	defer pub.Unlock()

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrHubStopped
	}
	if hydrate != nil && !c.enqueue(hydrate) {
		h.mu.Unlock()
		return ErrClientClosed
	}
	h.clients[c.ID] = c
	h.channels[c.Channel][c.ID] = c
	h.mu.Unlock()

	c.advance(StateOpen)
	metrics.ConnectionOpened(string(c.Channel))

	l := log.L()
	l.Debug().Str(log.FieldConnID, c.ID).Str(log.FieldChannel, string(c.Channel)).Msg("connection attached")
	return nil
}

// Publish enqueues payload on every open connection of ch and returns
// how many accepted it. Connections that cannot accept are closed.
func (h *Hub) Publish(ch domain.Channel, payload []byte) int {
	pub, ok := h.publish[ch]
	if !ok {
		return 0
	}

	pub.Lock()
	defer pub.Unlock()

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[ch]))
	for _, c := range h.channels[ch] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		h.remove(c, reasonForFailedSend(c))
	}

	metrics.MessagesEnqueued(string(ch), delivered)
	return delivered
}

// Detach removes c from the registry and closes it.
func (h *Hub) Detach(c *Client) {
	h.remove(c, reasonClientClosed)
}

// remove unregisters c if present and closes its send buffer. Safe to
// call any number of times from any goroutine.
func (h *Hub) remove(c *Client, reason string) {
	h.mu.Lock()
	_, present := h.clients[c.ID]
	if present {
		delete(h.clients, c.ID)
		delete(h.channels[c.Channel], c.ID)
	}
	h.mu.Unlock()

	c.closeSend()
	if c.conn == nil {
		c.advance(StateClosed)
	}

	if !present {
		return
	}

	metrics.ConnectionClosed(string(c.Channel), reason)
	l := log.L()
	evt := l.Debug()
	if reason == reasonBackpressure || reason == reasonLiveness {
		evt = l.Info()
	}
	evt.Str(log.FieldConnID, c.ID).
		Str(log.FieldChannel, string(c.Channel)).
		Str("reason", reason).
		Msg("connection removed")
}

// Sweep closes every connection that has been silent longer than the
// liveness timeout and returns how many it closed.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.RLock()
	var stale []*Client
	for _, c := range h.clients {
		if now.Sub(c.LastSeen()) > h.config.LivenessTimeout {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.remove(c, reasonLiveness)
	}
	return len(stale)
}

// Run sweeps for silent connections until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	interval := h.config.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}

// Stop rejects new connections and closes every open one.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.Unlock()

	for _, c := range all {
		h.remove(c, reasonShutdown)
	}

	l := log.L()
	l.Info().Int("closed", len(all)).Msg("hub stopped")
}

// Count returns the number of open connections on ch.
func (h *Hub) Count(ch domain.Channel) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[ch])
}
