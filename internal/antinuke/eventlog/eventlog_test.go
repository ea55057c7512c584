package eventlog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"discord-antinuke-bot/internal/antinuke/platform/platformtest"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap/zaptest"
)

func TestBuild(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	embed := Build(Record{
		Action:  models.ActionRole,
		Outcome: Failed,
		User:    &discordgo.User{ID: "42", Username: "mallory", Discriminator: "0"},
		Err:     errors.New("hierarchy"),
		Extras: []Field{
			{Name: "Role", Value: "Mods"},
			{Name: "Members", Value: ""},
			{Name: "Cached", Value: "Missing"},
		},
		Timestamp: at,
	})

	if embed.Title != "Role Add/Delete Unresolved" {
		t.Fatalf("unexpected title %q", embed.Title)
	}
	if embed.Color != ColorUnresolved {
		t.Fatalf("expected red, got %#x", embed.Color)
	}
	if embed.Timestamp != "2024-05-01T12:00:00Z" {
		t.Fatalf("expected entry timestamp, got %s", embed.Timestamp)
	}

	want := []string{"error=hierarchy", "Role=Mods", "Members=Unknown", "Cached=Missing", "User=mallory (42)"}
	if len(embed.Fields) != len(want) {
		t.Fatalf("expected %d fields, got %d", len(want), len(embed.Fields))
	}
	for i, f := range embed.Fields {
		if got := f.Name + "=" + f.Value; got != want[i] {
			t.Errorf("field %d: expected %q, got %q", i, want[i], got)
		}
	}
}

func TestOutcomeVerbs(t *testing.T) {
	tests := []struct {
		o     Outcome
		verb  string
		color int
	}{
		{Success, "Resolved", ColorResolved},
		{Failed, "Unresolved", ColorUnresolved},
		{Whitelisted, "Authorized", ColorAuthorized},
	}
	for _, tt := range tests {
		if tt.o.Verb() != tt.verb || tt.o.Color() != tt.color {
			t.Errorf("outcome %d: got %s/%#x", tt.o, tt.o.Verb(), tt.o.Color())
		}
	}
}

func TestEmit(t *testing.T) {
	fake := platformtest.New("bot")
	e := New(fake, zaptest.NewLogger(t))
	s := models.DefaultGuildSettings("g1")

	e.Emit(context.Background(), s, Record{Action: models.ActionBan, Outcome: Success})
	if n := len(fake.SentEmbeds()); n != 0 {
		t.Fatalf("expected skip without log channel, got %d embeds", n)
	}

	s.LogChannelID = "logs"
	e.Emit(context.Background(), s, Record{Action: models.ActionBan, Outcome: Success})
	sent := fake.SentEmbeds()
	if len(sent) != 1 || sent[0].ChannelID != "logs" || sent[0].Embed.Title != "Mass ban Resolved" {
		t.Fatalf("unexpected embeds %+v", sent)
	}

	fake.SendErr = errors.New("Unknown Channel")
	e.Emit(context.Background(), s, Record{Action: models.ActionBan, Outcome: Success})
}

func TestShorten(t *testing.T) {
	if got := shorten("  hello \n  world ", 400); got != "hello world" {
		t.Fatalf("expected whitespace collapsed, got %q", got)
	}

	long := strings.Repeat("word ", 200)
	got := Content(long)
	if len(got) > contentLimit {
		t.Fatalf("expected at most %d bytes, got %d", contentLimit, len(got))
	}
	if !strings.HasSuffix(got, "word [...]") {
		t.Fatalf("expected word boundary and marker, got %q", got[len(got)-20:])
	}

	unbroken := strings.Repeat("x", 500)
	if got := Content(unbroken); len(got) != contentLimit || !strings.HasSuffix(got, " [...]") {
		t.Fatalf("expected hard cut to %d bytes, got %d", contentLimit, len(got))
	}
}

func TestUserTag(t *testing.T) {
	tests := []struct {
		u    *discordgo.User
		want string
	}{
		{nil, ""},
		{&discordgo.User{Username: "alice"}, "alice"},
		{&discordgo.User{Username: "alice", Discriminator: "0"}, "alice"},
		{&discordgo.User{Username: "bob", Discriminator: "1234"}, "bob#1234"},
	}
	for _, tt := range tests {
		if got := UserTag(tt.u); got != tt.want {
			t.Errorf("UserTag(%v) = %q, want %q", tt.u, got, tt.want)
		}
	}
}
