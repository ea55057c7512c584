package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/antinuke/correlator"
	"discord-antinuke-bot/internal/antinuke/decision"
	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/antinuke/platform/platformtest"
	"discord-antinuke-bot/internal/antinuke/remediator"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

const (
	botID      = "100"
	siblingID  = "956298490043060265"
	ownerID    = "owner"
	operatorID = "operator"
	guildID    = "g1"
	logChannel = "logs"
)

type staticSettings struct{ s *models.GuildSettings }

func (s staticSettings) Get(context.Context, string) (*models.GuildSettings, error) {
	return s.s, nil
}

type harness struct {
	d         *Detector
	fake      *platformtest.Fake
	kv        *redis.Client
	counter   *core.RateCounter
	passports *core.PassportStore
	settings  *models.GuildSettings
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { kv.Close() })
	logger := zaptest.NewLogger(t)

	fake := platformtest.New(botID)
	fake.Owners[guildID] = ownerID
	for _, id := range []string{botID, siblingID, ownerID, operatorID, "p", "trusted", "admin"} {
		fake.AddMember(guildID, &discordgo.User{ID: id, Username: id})
	}

	settings := models.DefaultGuildSettings(guildID)
	settings.LogChannelID = logChannel

	siblings := models.NewIDSet(siblingID)
	operators := models.NewIDSet(operatorID)
	counter := core.NewRateCounter(kv)
	passports := core.NewPassportStore(kv)

	corr := correlator.New(fake, kv, correlator.Config{
		SiblingBots:     siblings,
		RatePerSecond:   1000,
		Burst:           100,
		VanityTimeout:   300 * time.Millisecond,
		VanityInterval:  10 * time.Millisecond,
		VanityClockSkew: 3 * time.Second,
	}, logger)
	dec := decision.New(fake.BotUserID, siblings, operators, counter, passports).WithGuard(fake)
	rem := remediator.New(fake, kv, operators, logger)
	rem.SetAckTiming(300*time.Millisecond, 10*time.Millisecond)

	d := New(Deps{
		Platform:   fake,
		KV:         kv,
		Settings:   staticSettings{settings},
		Correlator: corr,
		Decider:    dec,
		Remediator: rem,
		Counter:    counter,
		Roles:      core.NewRoleCache(kv),
		Log:        eventlog.New(fake, logger),
		Logger:     logger,
	})
	return &harness{d: d, fake: fake, kv: kv, counter: counter, passports: passports, settings: settings}
}

func (h *harness) audit(action discordgo.AuditLogAction, principal, target string) {
	h.fake.SetAudit(&platform.AuditEntry{
		ID:        fmt.Sprintf("%d-%s-%s", action, principal, target),
		Action:    action,
		UserID:    principal,
		TargetID:  target,
		CreatedAt: time.Now(),
	})
}

func (h *harness) ban(principal, target string) {
	h.audit(discordgo.AuditLogActionMemberBanAdd, principal, target)
	h.d.OnMemberBan(context.Background(), &discordgo.GuildBanAdd{
		GuildID: guildID,
		User:    &discordgo.User{ID: target, Username: target},
	})
}

func (h *harness) peek(action models.ActionKind, principal string) int64 {
	n, _ := h.counter.Peek(context.Background(), action, guildID, principal)
	return n
}

func field(embed *discordgo.MessageEmbed, name string) string {
	for _, f := range embed.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func titles(sent []platformtest.SentEmbed) []string {
	out := make([]string, len(sent))
	for i, s := range sent {
		out[i] = s.Embed.Title
	}
	return out
}

func TestMassBanRemediation(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionBan] = 3

	h.ban("p", "u1")
	h.ban("p", "u2")
	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected no ban below threshold, got %d", n)
	}

	h.ban("p", "u3")
	bans := h.fake.BanCalls()
	if len(bans) != 1 || bans[0].UserID != "p" || bans[0].Reason != ReasonBan {
		t.Fatalf("expected p banned once, got %+v", bans)
	}
	if n := h.peek(models.ActionBan, "p"); n != 3 {
		t.Fatalf("expected counter 3, got %d", n)
	}

	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || sent[0].Embed.Title != "Mass ban Resolved" || sent[0].ChannelID != logChannel {
		t.Fatalf("unexpected embeds %v", titles(sent))
	}
	if got := field(sent[0].Embed, "Banned User"); got != "u3" {
		t.Fatalf("expected banned user u3, got %q", got)
	}
}

func TestTrustedAdminBypass(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionBan] = 1
	h.settings.TrustedAdmins = []string{"trusted"}

	h.ban("trusted", "u1")

	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected no ban, got %d", n)
	}
	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || sent[0].Embed.Title != "Mass ban Authorized" || sent[0].Embed.Color != eventlog.ColorAuthorized {
		t.Fatalf("expected one authorized embed, got %v", titles(sent))
	}
	if n := h.peek(models.ActionBan, "trusted"); n != 0 {
		t.Fatalf("expected counter untouched, got %d", n)
	}
}

func TestOwnerAndOperatorImmunity(t *testing.T) {
	for _, principal := range []string{ownerID, operatorID} {
		t.Run(principal, func(t *testing.T) {
			h := newHarness(t)
			h.settings.Thresholds[models.ActionBan] = 1

			h.ban(principal, "u1")
			h.ban(principal, "u2")

			if n := len(h.fake.BanCalls()); n != 0 {
				t.Fatalf("expected no ban, got %d", n)
			}
			if n := h.peek(models.ActionBan, principal); n != 0 {
				t.Fatalf("expected counter untouched, got %d", n)
			}
			for _, s := range h.fake.SentEmbeds() {
				if s.Embed.Title != "Mass ban Authorized" {
					t.Fatalf("unexpected embed %q", s.Embed.Title)
				}
			}
		})
	}
}

func TestUnknownOwnerDropsEvent(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionBan] = 1
	delete(h.fake.Owners, guildID)

	h.ban(ownerID, "u1")

	if n := h.peek(models.ActionBan, ownerID); n != 0 {
		t.Fatalf("expected counter untouched, got %d", n)
	}
	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected no ban, got %+v", h.fake.BanCalls())
	}
	if n := len(h.fake.SentEmbeds()); n != 0 {
		t.Fatalf("expected no embeds, got %v", titles(h.fake.SentEmbeds()))
	}
}

func TestBotSelfImmunity(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionChannel] = 1
	h.settings.Thresholds[models.ActionBan] = 1

	h.ban(botID, "u1")
	h.ban(siblingID, "u2")
	h.audit(discordgo.AuditLogActionChannelDelete, botID, "c1")
	h.d.OnChannelDelete(context.Background(), &discordgo.ChannelDelete{
		Channel: &discordgo.Channel{ID: "c1", GuildID: guildID, Name: "general"},
	})

	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected no bans, got %d", n)
	}
	if n := len(h.fake.SentEmbeds()); n != 0 {
		t.Fatalf("expected no embeds, got %d", n)
	}
	if n := h.peek(models.ActionBan, botID) + h.peek(models.ActionBan, siblingID); n != 0 {
		t.Fatalf("expected no counters, got %d", n)
	}
}

func TestRoleDeleteRecreation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.settings.Thresholds[models.ActionRole] = 1
	h.fake.AddMember(guildID, &discordgo.User{ID: "m1"})
	h.fake.AddMember(guildID, &discordgo.User{ID: "m2"})
	h.fake.Roster["r1"] = []string{"m1", "m2"}

	role := &discordgo.Role{ID: "r1", Name: "Mods", Color: 0x00ff00, Permissions: 8, Position: 3, Hoist: true, Mentionable: true}
	h.d.RefreshRoleSnapshot(ctx, guildID, role)

	h.audit(discordgo.AuditLogActionRoleDelete, "p", "r1")
	h.d.OnRoleDelete(ctx, &discordgo.GuildRoleDelete{RoleID: "r1", GuildID: guildID})

	if bans := h.fake.BanCalls(); len(bans) != 1 || bans[0].UserID != "p" || bans[0].Reason != ReasonRole {
		t.Fatalf("expected p banned, got %+v", bans)
	}
	if len(h.fake.CreatedRoles) != 1 {
		t.Fatalf("expected role recreated, got %d", len(h.fake.CreatedRoles))
	}
	params := h.fake.CreatedRoles[0]
	if params.Name != "Mods" || *params.Color != 0x00ff00 || *params.Permissions != 8 || !*params.Hoist || !*params.Mentionable {
		t.Fatalf("unexpected role params %+v", params)
	}
	if len(h.fake.Moves) != 1 || h.fake.Moves[0].Reason != "3" {
		t.Fatalf("expected move to position 3, got %+v", h.fake.Moves)
	}
	if len(h.fake.RoleAdds) != 2 {
		t.Fatalf("expected two members restored, got %+v", h.fake.RoleAdds)
	}

	sent := h.fake.SentEmbeds()
	if len(sent) != 1 {
		t.Fatalf("expected one embed, got %v", titles(sent))
	}
	e := sent[0].Embed
	if e.Title != "Role Add/Delete Resolved" || field(e, "Cached") != "Yes" || field(e, "Members") != "2" || field(e, "Role") != "Mods" {
		t.Fatalf("unexpected embed %+v", e.Fields)
	}
}

func TestRoleDeleteCacheMiss(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionRole] = 1

	h.audit(discordgo.AuditLogActionRoleDelete, "p", "r1")
	h.d.OnRoleDelete(context.Background(), &discordgo.GuildRoleDelete{RoleID: "r1", GuildID: guildID})

	if n := len(h.fake.BanCalls()); n != 1 {
		t.Fatalf("expected ban, got %d", n)
	}
	if n := len(h.fake.CreatedRoles); n != 0 {
		t.Fatalf("expected no recreation, got %d", n)
	}
	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || field(sent[0].Embed, "Cached") != "Missing" || field(sent[0].Embed, "Members") != "Unknown" {
		t.Fatalf("unexpected embeds %+v", sent)
	}
}

func TestRoleDeleteThroughBotCommand(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.settings.Thresholds[models.ActionRole] = 1

	h.audit(discordgo.AuditLogActionRoleDelete, siblingID, "r1")
	h.d.OnRoleDelete(ctx, &discordgo.GuildRoleDelete{RoleID: "r1", GuildID: guildID})
	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected drop without sidecar, got %d bans", n)
	}

	h.kv.Set(ctx, redis.RoleDeleteSidecarKey("r2"), `"p"`, time.Minute)
	h.audit(discordgo.AuditLogActionRoleDelete, siblingID, "r2")
	h.d.OnRoleDelete(ctx, &discordgo.GuildRoleDelete{RoleID: "r2", GuildID: guildID})
	if bans := h.fake.BanCalls(); len(bans) != 1 || bans[0].UserID != "p" {
		t.Fatalf("expected human behind the command banned, got %+v", bans)
	}
}

func TestRoleCreateSnapshotsAndCounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.settings.Thresholds[models.ActionRole] = 2
	h.fake.Roster["r9"] = []string{"m1"}

	h.audit(discordgo.AuditLogActionRoleCreate, "p", "r9")
	h.d.OnRoleCreate(ctx, &discordgo.GuildRoleCreate{GuildRole: &discordgo.GuildRole{
		GuildID: guildID,
		Role:    &discordgo.Role{ID: "r9", Name: "new"},
	}})

	if n := h.peek(models.ActionRole, "p"); n != 1 {
		t.Fatalf("expected counter 1, got %d", n)
	}
	snap, err := h.d.Roles.Load(ctx, "r9")
	if err != nil || snap.Name != "new" || len(snap.Members) != 1 {
		t.Fatalf("expected snapshot of created role, got %+v %v", snap, err)
	}
}

func TestKickRequiresMatchingTarget(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionKick] = 1

	h.audit(discordgo.AuditLogActionMemberKick, "p", "victim")
	h.d.OnMemberRemove(context.Background(), &discordgo.GuildMemberRemove{Member: &discordgo.Member{
		GuildID: guildID, User: &discordgo.User{ID: "leaver"},
	}})
	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected voluntary leave ignored, got %d bans", n)
	}

	h.d.OnMemberRemove(context.Background(), &discordgo.GuildMemberRemove{Member: &discordgo.Member{
		GuildID: guildID, User: &discordgo.User{ID: "victim", Username: "victim"},
	}})
	bans := h.fake.BanCalls()
	if len(bans) != 1 || bans[0].Reason != ReasonKick {
		t.Fatalf("expected kicker banned, got %+v", bans)
	}
	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || sent[0].Embed.Title != "Mass Kick Resolved" || field(sent[0].Embed, "ID") != "victim" {
		t.Fatalf("unexpected embeds %+v", sent)
	}
}

func TestChannelCreateRollback(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionChannel] = 1

	h.audit(discordgo.AuditLogActionChannelCreate, "p", "c9")
	h.d.OnChannelCreate(context.Background(), &discordgo.ChannelCreate{
		Channel: &discordgo.Channel{ID: "c9", GuildID: guildID, Name: "spam"},
	})

	if len(h.fake.DeletedChannels) != 1 || h.fake.DeletedChannels[0].TargetID != "c9" {
		t.Fatalf("expected created channel deleted, got %+v", h.fake.DeletedChannels)
	}
	if n := len(h.fake.BanCalls()); n != 1 {
		t.Fatalf("expected ban, got %d", n)
	}
	if got := field(h.fake.SentEmbeds()[0].Embed, "Channel Name"); got != "spam" {
		t.Fatalf("expected channel name extra, got %q", got)
	}
}

func TestHierarchyBlocked(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionBan] = 1
	h.fake.Outranking["admin"] = true

	h.ban("admin", "u1")

	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected no ban attempt, got %d", n)
	}
	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || sent[0].Embed.Title != "Mass ban Unresolved" || field(sent[0].Embed, "error") != "hierarchy" {
		t.Fatalf("expected unresolved hierarchy embed, got %+v", sent)
	}
}

func TestBanPlatformErrorSurfaced(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionBan] = 1
	h.fake.BanErr = fmt.Errorf("HTTP 403 Forbidden, Missing Permissions")

	h.ban("p", "u1")

	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || !strings.Contains(field(sent[0].Embed, "error"), "Missing Permissions") {
		t.Fatalf("expected platform error in embed, got %+v", sent)
	}
}

func TestUnbanRefundsCounter(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionBan] = 3

	h.ban("p", "u1")
	h.ban("p", "u2")

	h.audit(discordgo.AuditLogActionMemberBanRemove, "p", "u1")
	h.d.OnMemberUnban(context.Background(), &discordgo.GuildBanRemove{GuildID: guildID, User: &discordgo.User{ID: "u1"}})

	if n := h.peek(models.ActionBan, "p"); n != 1 {
		t.Fatalf("expected counter refunded to 1, got %d", n)
	}
}

func TestEmojiDeduplicatesEntries(t *testing.T) {
	h := newHarness(t)
	h.settings.Thresholds[models.ActionEmoji] = 5

	h.audit(discordgo.AuditLogActionEmojiCreate, "p", "em1")
	ev := &discordgo.GuildEmojisUpdate{GuildID: guildID, Emojis: []*discordgo.Emoji{{ID: "em1"}}}
	h.d.OnEmojisUpdate(context.Background(), ev)
	h.d.OnEmojisUpdate(context.Background(), ev)

	if n := h.peek(models.ActionEmoji, "p"); n != 1 {
		t.Fatalf("expected one count per audit entry, got %d", n)
	}
}

func vanityEntry(principal string) *platform.AuditEntry {
	k := discordgo.AuditLogChangeKeyVanityURLCode
	return &platform.AuditEntry{
		ID:        "vanity-1",
		Action:    discordgo.AuditLogActionGuildUpdate,
		UserID:    principal,
		CreatedAt: time.Now(),
		Changes: []*discordgo.AuditLogChange{
			{Key: &k, OldValue: "alpha", NewValue: "beta"},
		},
	}
}

// runWorker acknowledges every reclaim request and reports what it saw.
func runWorker(t *testing.T, kv *redis.Client) <-chan models.VanityReclaimRequest {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	sub := kv.Subscribe(ctx, redis.VanityEventsChannel)
	t.Cleanup(func() { sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	seen := make(chan models.VanityReclaimRequest, 4)
	go func() {
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			var req models.VanityReclaimRequest
			if json.Unmarshal([]byte(msg.Payload), &req) != nil {
				continue
			}
			kv.Set(ctx, req.ConfirmKey, "1", time.Minute)
			seen <- req
		}
	}()
	return seen
}

func TestVanityChangeByNonOwner(t *testing.T) {
	h := newHarness(t)
	h.settings.VanityProtectionOn = true
	seen := runWorker(t, h.kv)
	h.fake.SetAudit(vanityEntry("p"))

	if state := h.d.OnGuildUpdate(context.Background(), guildID); state != VanityDone {
		t.Fatalf("expected done, got %s", state)
	}

	select {
	case req := <-seen:
		if req.TargetVanity != "alpha" || req.BadVanity != "beta" || req.GuildID != guildID {
			t.Fatalf("unexpected request %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected reclaim request published")
	}

	bans := h.fake.BanCalls()
	if len(bans) != 1 || bans[0].UserID != "p" || bans[0].Reason != "Changed the vanity to beta" {
		t.Fatalf("expected p banned, got %+v", bans)
	}
	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || sent[0].Embed.Title != "Vanity Change Resolved" || field(sent[0].Embed, "Before") != "alpha" {
		t.Fatalf("unexpected embeds %+v", sent)
	}

	// same audit entry again
	h.d.OnGuildUpdate(context.Background(), guildID)
	if n := len(h.fake.BanCalls()); n != 1 {
		t.Fatalf("expected de-duplicated second event, got %d bans", n)
	}
	if n := len(h.fake.SentEmbeds()); n != 1 {
		t.Fatalf("expected no further embeds, got %d", n)
	}
}

func TestVanityAckTimeoutStillBans(t *testing.T) {
	h := newHarness(t)
	h.settings.VanityProtectionOn = true
	h.fake.SetAudit(vanityEntry("p"))

	h.d.OnGuildUpdate(context.Background(), guildID)

	if n := len(h.fake.BanCalls()); n != 1 {
		t.Fatalf("expected ban despite timeout, got %d", n)
	}
	sent := h.fake.SentEmbeds()
	if len(sent) != 1 || sent[0].Embed.Title != "Vanity Change Unresolved" ||
		field(sent[0].Embed, "error") != remediator.AckTimeoutMessage {
		t.Fatalf("unexpected embeds %+v", sent)
	}
}

func TestVanityOwnerIgnored(t *testing.T) {
	h := newHarness(t)
	h.settings.VanityProtectionOn = true
	h.fake.SetAudit(vanityEntry(ownerID))

	h.d.OnGuildUpdate(context.Background(), guildID)

	if n := len(h.fake.BanCalls()) + len(h.fake.SentEmbeds()); n != 0 {
		t.Fatalf("expected owner change only logged locally, got %d side effects", n)
	}
}

func TestVanityUnknownOwnerLeavesEventUnclaimed(t *testing.T) {
	h := newHarness(t)
	h.settings.VanityProtectionOn = true
	delete(h.fake.Owners, guildID)
	entry := vanityEntry(ownerID)
	h.fake.SetAudit(entry)

	h.d.OnGuildUpdate(context.Background(), guildID)

	if n := len(h.fake.BanCalls()) + len(h.fake.SentEmbeds()); n != 0 {
		t.Fatalf("expected no side effects, got %d", n)
	}
	key := redis.VanityEventKey(guildID, ownerID, "alpha", "beta", entry.CreatedAt.Unix())
	if seen, _ := h.kv.Exists(context.Background(), key); seen {
		t.Fatalf("expected vanity event left unclaimed")
	}
}

func TestVanityDecisionErrorReleasesClaim(t *testing.T) {
	h := newHarness(t)
	h.settings.VanityProtectionOn = true
	seen := runWorker(t, h.kv)
	h.fake.SetAudit(vanityEntry("p"))
	h.fake.ModerateErr = errors.New("members unavailable")

	h.d.OnGuildUpdate(context.Background(), guildID)
	if n := len(h.fake.BanCalls()); n != 0 {
		t.Fatalf("expected no ban on decision error, got %d", n)
	}

	h.fake.ModerateErr = nil
	h.d.OnGuildUpdate(context.Background(), guildID)

	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatalf("expected retried event to reclaim the vanity")
	}
	if bans := h.fake.BanCalls(); len(bans) != 1 || bans[0].UserID != "p" {
		t.Fatalf("expected p banned on retry, got %+v", bans)
	}
}

func TestVanityDisabled(t *testing.T) {
	h := newHarness(t)
	h.fake.SetAudit(vanityEntry("p"))
	if state := h.d.OnGuildUpdate(context.Background(), guildID); state != VanityIdle {
		t.Fatalf("expected idle when disabled, got %s", state)
	}
}

func TestBotJoinPassport(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.settings.BotJoinProtectionOn = true

	join := func(id string) {
		h.d.OnMemberJoin(ctx, &discordgo.GuildMemberAdd{Member: &discordgo.Member{
			GuildID: guildID, User: &discordgo.User{ID: id, Username: id, Bot: true},
		}})
	}

	if _, err := h.passports.Issue(ctx, guildID, "b1", "admin"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	join("b1")
	if n := len(h.fake.KickCalls()); n != 0 {
		t.Fatalf("expected passported bot kept, got %d kicks", n)
	}

	join("b2")
	kicks := h.fake.KickCalls()
	if len(kicks) != 1 || kicks[0].UserID != "b2" || kicks[0].Reason != ReasonBotJoin {
		t.Fatalf("expected b2 kicked, got %+v", kicks)
	}
	if sent := h.fake.SentEmbeds(); len(sent) != 1 || sent[0].Embed.Title != "Bot Add Resolved" {
		t.Fatalf("unexpected embeds %+v", sent)
	}
}

func webhookMessage(everyone bool, roles ...string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:              "m1",
		GuildID:         guildID,
		ChannelID:       "c1",
		WebhookID:       "w1",
		Author:          &discordgo.User{ID: "w1", Username: "hook", Bot: true},
		Content:         "hello   @everyone",
		MentionEveryone: everyone,
		MentionRoles:    roles,
		Timestamp:       time.Now(),
	}}
}

func TestWebhookMentionDetection(t *testing.T) {
	roster := func(n int) []string {
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprint(i)
		}
		return ids
	}

	tests := []struct {
		name   string
		msg    *discordgo.MessageCreate
		delete bool
	}{
		{"everyone", webhookMessage(true), true},
		{"plain", webhookMessage(false), false},
		{"small role", webhookMessage(false, "small"), false},
		{"large role", webhookMessage(false, "large"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.settings.WebhookMentionProtectionOn = true
			h.fake.Webhooks[guildID] = []*discordgo.Webhook{{ID: "w1"}}
			h.fake.Roster["small"] = roster(100)
			h.fake.Roster["large"] = roster(101)

			h.d.OnMessage(context.Background(), tt.msg)

			deleted := len(h.fake.DeletedHooks) == 1
			if deleted != tt.delete {
				t.Fatalf("expected delete=%v, got %+v", tt.delete, h.fake.DeletedHooks)
			}
			if !tt.delete {
				return
			}
			sent := h.fake.SentEmbeds()
			if len(sent) != 1 || sent[0].Embed.Title != "Webhook Mention Spam Resolved" {
				t.Fatalf("unexpected embeds %+v", sent)
			}
			if got := field(sent[0].Embed, "content"); got != "hello @everyone" {
				t.Fatalf("expected shortened content, got %q", got)
			}
		})
	}
}

func TestWebhookIgnoredWhenDisabledOrNotWebhook(t *testing.T) {
	h := newHarness(t)
	h.fake.Webhooks[guildID] = []*discordgo.Webhook{{ID: "w1"}}

	h.d.OnMessage(context.Background(), webhookMessage(true))
	if n := len(h.fake.DeletedHooks); n != 0 {
		t.Fatalf("expected nothing when disabled, got %d", n)
	}

	h.settings.WebhookMentionProtectionOn = true
	msg := webhookMessage(true)
	msg.WebhookID = ""
	h.d.OnMessage(context.Background(), msg)
	if n := len(h.fake.DeletedHooks); n != 0 {
		t.Fatalf("expected user messages ignored, got %d", n)
	}
}

func TestWebhookLockContention(t *testing.T) {
	h := newHarness(t)
	h.settings.WebhookMentionProtectionOn = true
	h.fake.Webhooks[guildID] = []*discordgo.Webhook{{ID: "w1"}}

	mu := h.d.hookLock("w1")
	mu.Lock()
	h.d.OnMessage(context.Background(), webhookMessage(true))
	mu.Unlock()

	if n := len(h.fake.DeletedHooks); n != 0 {
		t.Fatalf("expected contended event dropped, got %d deletions", n)
	}
}

func TestWebhookLockReleased(t *testing.T) {
	h := newHarness(t)
	h.settings.WebhookMentionProtectionOn = true
	h.fake.Webhooks[guildID] = []*discordgo.Webhook{{ID: "w1"}}

	h.d.OnMessage(context.Background(), webhookMessage(true))

	if n := len(h.fake.DeletedHooks); n != 1 {
		t.Fatalf("expected webhook deleted, got %d", n)
	}
	if _, ok := h.d.hookLocks.Load("w1"); ok {
		t.Fatalf("expected lock entry removed after handling")
	}
}
