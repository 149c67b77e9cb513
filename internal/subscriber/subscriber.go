// Package subscriber is a reconnecting websocket client for the
// moderator and display channels.
package subscriber

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/pkg/log"
)

// State is the connection state of a Subscriber.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Config configures a Subscriber.
type Config struct {
	URL              string
	Header           http.Header
	Heartbeat        time.Duration
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
}

// DefaultConfig returns settings matching the server's liveness window.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		Heartbeat:        25 * time.Second,
		MinBackoff:       time.Second,
		MaxBackoff:       30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      75 * time.Second,
	}
}

// Handlers receive what the server sends. Nil handlers are skipped.
// They are called from a single goroutine.
type Handlers struct {
	OnHydrate func(domain.Hydration)
	OnEvent   func(domain.Event)
	OnStats   func(domain.Stats)
	OnState   func(State)
}

// Subscriber keeps one websocket session alive. After every failure it
// waits in Backoff for exactly one scheduled retry before connecting
// again; every new session starts with a fresh hydration.
type Subscriber struct {
	cfg      Config
	handlers Handlers
	dialer   *websocket.Dialer

	state   atomic.Int32
	lastSeq uint64
	attempt int
}

// New creates a Subscriber. Call Run to start it.
func New(cfg Config, handlers Handlers) *Subscriber {
	def := DefaultConfig(cfg.URL)
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = def.Heartbeat
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = def.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.MinBackoff)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * cfg.Heartbeat
	}
	return &Subscriber{
		cfg:      cfg,
		handlers: handlers,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
	}
}

// State returns the current state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) setState(st State) {
	if State(s.state.Swap(int32(st))) != st && s.handlers.OnState != nil {
		s.handlers.OnState(st)
	}
}

// Run drives the state machine until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	l := log.L()
	var conn *websocket.Conn

	defer s.setState(StateDisconnected)

	next := StateConnecting
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.setState(next)

		switch next {
		case StateConnecting:
			c, _, err := s.dialer.DialContext(ctx, s.cfg.URL, s.cfg.Header)
			if err != nil {
				l.Debug().Err(err).Str("url", s.cfg.URL).Msg("connect failed")
				next = StateBackoff
				continue
			}
			conn = c
			next = StateOpen

		case StateOpen:
			err := s.session(ctx, conn)
			conn = nil
			if err != nil && ctx.Err() == nil {
				l.Debug().Err(err).Msg("session ended")
			}
			next = StateBackoff

		case StateBackoff:
			delay := s.backoff()
			s.attempt++
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			next = StateConnecting

		default:
			return errors.New("subscriber: invalid state")
		}
	}
}

// backoff is the delay before the next attempt: exponential from
// MinBackoff, capped at MaxBackoff, with up to 20% jitter.
func (s *Subscriber) backoff() time.Duration {
	d := s.cfg.MinBackoff
	for i := 0; i < s.attempt && d < s.cfg.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, s.cfg.MaxBackoff)
	return d - time.Duration(rand.Int64N(int64(d)/5+1))
}

// session reads from conn until it fails or ctx is done. A heartbeat
// goroutine owns all data writes.
func (s *Subscriber) session(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(ctx, conn)
	}()
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.dispatch(data)
	}
}

func (s *Subscriber) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(domain.MsgTypePing)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (s *Subscriber) dispatch(data []byte) {
	l := log.L()

	var base domain.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		l.Debug().Err(err).Msg("undecodable message")
		return
	}

	switch {
	case base.Type == domain.MsgTypeHydrate:
		var h domain.Hydration
		if err := json.Unmarshal(data, &h); err != nil {
			l.Debug().Err(err).Msg("undecodable hydration")
			return
		}
		s.lastSeq = h.Seq
		s.attempt = 0
		if s.handlers.OnHydrate != nil {
			s.handlers.OnHydrate(h)
		}

	case base.Type == domain.MsgTypeStats:
		var m domain.StatsMessage
		if err := json.Unmarshal(data, &m); err == nil && s.handlers.OnStats != nil {
			s.handlers.OnStats(m.Data)
		}

	case domain.IsEventType(base.Type):
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.Debug().Err(err).Msg("undecodable event")
			return
		}
		if env.Seq <= s.lastSeq {
			return
		}
		s.lastSeq = env.Seq
		e, err := env.Event()
		if err == nil && s.handlers.OnEvent != nil {
			s.handlers.OnEvent(e)
		}
	}
}
