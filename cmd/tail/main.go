// Command tail follows the display or moderator channel of a running
// server and prints stories as they are approved or submitted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/subscriber"
	pkglog "github.com/StergiosCha/perpatame/pkg/log"
)

func main() {
	var (
		endpoint   = pflag.StringP("url", "u", "ws://localhost:8000/ws/display", "websocket endpoint to follow")
		moderator  = pflag.StringP("moderator", "m", "", "moderator name, required for /ws/moderate")
		heartbeat  = pflag.Duration("heartbeat", 25*time.Second, "interval between ping messages")
		minBackoff = pflag.Duration("min-backoff", time.Second, "first reconnect delay")
		maxBackoff = pflag.Duration("max-backoff", 30*time.Second, "reconnect delay cap")
		origin     = pflag.String("origin", "", "Origin header sent with the handshake")
		logLevel   = pflag.String("log-level", "warn", "log level")
	)
	pflag.Parse()

	pkglog.Init(pkglog.Config{Level: *logLevel, Pretty: true, Output: os.Stderr})
	logger := pkglog.L()

	target := *endpoint
	if *moderator != "" {
		target += "?moderator=" + url.QueryEscape(*moderator)
	}

	cfg := subscriber.DefaultConfig(target)
	cfg.Heartbeat = *heartbeat
	cfg.MinBackoff = *minBackoff
	cfg.MaxBackoff = *maxBackoff
	if *origin != "" {
		cfg.Header = http.Header{"Origin": []string{*origin}}
	}

	sub := subscriber.New(cfg, subscriber.Handlers{
		OnHydrate: func(h domain.Hydration) {
			fmt.Printf("-- %s hydrated at seq %d: %d pending, %d approved\n",
				h.Channel, h.Seq, len(h.Pending), len(h.Approved))
			for _, s := range h.Pending {
				printStory("pending", s)
			}
			for _, s := range h.Approved {
				printStory("approved", s)
			}
			printStats(h.Stats)
		},
		OnEvent: func(e domain.Event) {
			printStory(string(e.Type()), e.Snapshot())
		},
		OnStats: printStats,
		OnState: func(st subscriber.State) {
			logger.Info().Str("state", st.String()).Str("url", target).Msg("connection state")
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("subscriber stopped")
		os.Exit(1)
	}
}

func printStory(label string, s domain.Story) {
	name := s.AuthorName
	if name == "" {
		name = "anonymous"
	}
	text := s.TransformedText
	if text == "" {
		text = s.OriginalText
	}
	var emojis string
	if s.Theme != nil {
		for _, e := range s.Theme.Emojis {
			emojis += e
		}
	}
	fmt.Printf("[%s] %s (%s) %s %s\n", label, s.ID, name, emojis, text)
}

func printStats(st domain.Stats) {
	fmt.Printf("   stats: total=%d pending=%d approved=%d rejected=%d\n",
		st.TotalSubmissions, st.Pending, st.Approved, st.Rejected)
}
