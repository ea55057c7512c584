package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"discord-antinuke-bot/internal/models"
)

// openTestDatabase needs a disposable Postgres, e.g.
// ANTINUKE_TEST_POSTGRES_DSN="host=localhost user=postgres password=postgres dbname=antinuke_test sslmode=disable"
func openTestDatabase(t *testing.T) *Database {
	t.Helper()
	dsn := os.Getenv("ANTINUKE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ANTINUKE_TEST_POSTGRES_DSN not set")
	}
	d, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func testGuildID() string {
	return fmt.Sprintf("test-%d", time.Now().UnixNano())
}

func TestGetGuildSettingsDefaults(t *testing.T) {
	d := openTestDatabase(t)
	s, err := d.GetGuildSettings(context.Background(), testGuildID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.LogChannelID != "" || s.VanityProtectionOn || len(s.TrustedAdmins) != 0 {
		t.Fatalf("expected all-off defaults, got %+v", s)
	}
	for _, a := range models.ThresholdActions {
		if s.Enabled(a) {
			t.Fatalf("expected %s disabled", a)
		}
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	d := openTestDatabase(t)
	ctx := context.Background()
	guild := testGuildID()

	if err := d.SetLogChannel(ctx, guild, "chan"); err != nil {
		t.Fatalf("log channel: %v", err)
	}
	if err := d.SetProtection(ctx, guild, models.ActionVanity, true); err != nil {
		t.Fatalf("vanity: %v", err)
	}
	if err := d.SetThreshold(ctx, guild, models.ActionBan, 3); err != nil {
		t.Fatalf("threshold: %v", err)
	}
	if err := d.SetThreshold(ctx, guild, models.ActionBan, 11); err == nil {
		t.Fatalf("expected threshold above cap to fail")
	}
	trusted, err := d.ToggleTrustedAdmin(ctx, guild, "u1", "owner")
	if err != nil || !trusted {
		t.Fatalf("expected u1 trusted, got %v %v", trusted, err)
	}

	s, err := d.GetGuildSettings(ctx, guild)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.LogChannelID != "chan" || !s.VanityProtectionOn || s.Threshold(models.ActionBan) != 3 || !s.IsTrusted("u1") {
		t.Fatalf("unexpected settings %+v", s)
	}

	trusted, _ = d.ToggleTrustedAdmin(ctx, guild, "u1", "owner")
	if trusted {
		t.Fatalf("expected second toggle to remove u1")
	}
	d.ToggleTrustedAdmin(ctx, guild, "u2", "owner")
	if err := d.RemoveTrustedAdmins(ctx, guild, []string{"u2"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, _ := d.GetTrustedAdmins(ctx, guild)
	if len(ids) != 0 {
		t.Fatalf("expected no trusted admins, got %v", ids)
	}
}
