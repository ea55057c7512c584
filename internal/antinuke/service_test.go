package antinuke

import (
	"context"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/metrics"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

type emptySource struct{}

func (emptySource) GetGuildSettings(_ context.Context, guildID string) (*models.GuildSettings, error) {
	return models.DefaultGuildSettings(guildID), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { kv.Close() })
	logger := zaptest.NewLogger(t)

	settings, err := core.NewSettingsCache(emptySource{}, logger)
	if err != nil {
		t.Fatalf("settings cache: %v", err)
	}
	t.Cleanup(settings.Close)

	session, err := discordgo.New("Bot test")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return New(session, kv, settings, Options{
		Operators:   models.NewIDSet("operator"),
		SiblingBots: models.NewIDSet(),
		AuditRate:   10,
		AuditBurst:  5,
		AuditMaxAge: time.Minute,
	}, logger)
}

func TestSpawnRecoversPanics(t *testing.T) {
	s := newTestService(t)
	before := testutil.ToFloat64(metrics.HandlerPanics.WithLabelValues("test_panic"))

	var ran atomic.Bool
	s.spawn("test_panic", func(context.Context) { panic("boom") })
	s.spawn("test_ok", func(context.Context) { ran.Store(true) })

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ran.Load() {
		t.Fatal("expected the healthy task to run")
	}
	if got := testutil.ToFloat64(metrics.HandlerPanics.WithLabelValues("test_panic")); got != before+1 {
		t.Fatalf("expected panic counter %v, got %v", before+1, got)
	}
}

func TestCloseCancelsTasks(t *testing.T) {
	s := newTestService(t)

	started := make(chan struct{})
	var cancelled atomic.Bool
	s.spawn("blocking", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !cancelled.Load() {
		t.Fatal("expected the task context to be cancelled")
	}
}

func TestSpawnAfterCloseIsDropped(t *testing.T) {
	s := newTestService(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var ran atomic.Bool
	s.spawn("late", func(context.Context) { ran.Store(true) })
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Fatal("expected no task to run after close")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestStartRegistersAndCloseRemovesHandlers(t *testing.T) {
	s := newTestService(t)
	s.Start()
	if len(s.removers) != 15 {
		t.Fatalf("expected 15 handlers, got %d", len(s.removers))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestIsOperator(t *testing.T) {
	s := newTestService(t)
	if !s.IsOperator("operator") || s.IsOperator("someone") {
		t.Fatal("unexpected operator result")
	}
}

func TestRoleDiff(t *testing.T) {
	got := roleDiff([]string{"a", "b", "c"}, []string{"b", "c", "d"})
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "d"}) {
		t.Fatalf("expected [a d], got %v", got)
	}
	if got := roleDiff(nil, []string{"x"}); !slices.Equal(got, []string{"x"}) {
		t.Fatalf("expected [x] without a previous state, got %v", got)
	}
	if got := roleDiff([]string{"x"}, []string{"x"}); len(got) != 0 {
		t.Fatalf("expected no change, got %v", got)
	}
}
