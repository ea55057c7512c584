package commands

import (
	"context"
	"errors"
	"testing"
	"time"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestPingEmbed(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	broken := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	embed := PingEmbed(context.Background(), 40*time.Millisecond, 25*time.Millisecond, ok, broken)
	if len(embed.Fields) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(embed.Fields))
	}

	fields := map[string]string{}
	for _, f := range embed.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Bot Latency"] != "`40ms`" {
		t.Fatalf("expected bot latency 40ms, got %s", fields["Bot Latency"])
	}
	if fields["API Latency"] != "`25ms`" {
		t.Fatalf("expected api latency 25ms, got %s", fields["API Latency"])
	}
	if fields["Redis"] != "`Error`" {
		t.Fatalf("expected redis error, got %s", fields["Redis"])
	}
	if fields["Database"] == "`Error`" {
		t.Fatal("expected database latency, got error")
	}
}
