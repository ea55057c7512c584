// Package platformtest provides an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"discord-antinuke-bot/internal/antinuke/platform"

	"github.com/bwmarrin/discordgo"
)

// Call records one moderation call.
type Call struct {
	GuildID  string
	UserID   string
	RoleID   string
	TargetID string
	Reason   string
}

// SentEmbed records one log embed.
type SentEmbed struct {
	ChannelID string
	Embed     *discordgo.MessageEmbed
}

// Fake is safe for concurrent use. Zero maps mean "nothing there".
type Fake struct {
	mu sync.Mutex

	BotID  string
	Owners map[string]string // guild -> owner
	Users  map[string]*discordgo.User
	// Members lists who is currently in each guild.
	Members map[string]map[string]bool
	// Outranking lists users whose top role is at or above the bot's.
	Outranking map[string]bool
	Roster     map[string][]string // role -> members
	Webhooks   map[string][]*discordgo.Webhook
	Audit      map[discordgo.AuditLogAction]*platform.AuditEntry
	// AuditFunc overrides Audit when set.
	AuditFunc func(guildID string, action discordgo.AuditLogAction) (*platform.AuditEntry, error)

	BanErr      error
	KickErr     error
	SendErr     error
	ModerateErr error

	AuditCalls      int
	Bans            []Call
	Kicks           []Call
	CreatedRoles    []*discordgo.RoleParams
	CreateReasons   []string
	Moves           []Call
	RoleAdds        []Call
	DeletedChannels []Call
	DeletedHooks    []Call
	Embeds          []SentEmbed
	nextRoleID      int
}

func New(botID string) *Fake {
	return &Fake{
		BotID:      botID,
		Owners:     map[string]string{},
		Users:      map[string]*discordgo.User{},
		Members:    map[string]map[string]bool{},
		Outranking: map[string]bool{},
		Roster:     map[string][]string{},
		Webhooks:   map[string][]*discordgo.Webhook{},
		Audit:      map[discordgo.AuditLogAction]*platform.AuditEntry{},
	}
}

// AddMember registers a member (and their user) in guildID.
func (f *Fake) AddMember(guildID string, u *discordgo.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Members[guildID] == nil {
		f.Members[guildID] = map[string]bool{}
	}
	f.Members[guildID][u.ID] = true
	f.Users[u.ID] = u
}

// SetAudit makes entry the latest one for its action.
func (f *Fake) SetAudit(entry *platform.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Audit[entry.Action] = entry
}

func (f *Fake) BotUserID() string { return f.BotID }

func (f *Fake) GuildOwnerID(_ context.Context, guildID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.Owners[guildID]
	if !ok {
		return "", platform.ErrNotFound
	}
	return owner, nil
}

func (f *Fake) LatestAuditEntry(_ context.Context, guildID string, action discordgo.AuditLogAction) (*platform.AuditEntry, error) {
	f.mu.Lock()
	f.AuditCalls++
	fn := f.AuditFunc
	entry := f.Audit[action]
	f.mu.Unlock()
	if fn != nil {
		return fn(guildID, action)
	}
	return entry, nil
}

func (f *Fake) User(_ context.Context, userID string) (*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.Users[userID]; ok {
		return u, nil
	}
	return nil, platform.ErrNotFound
}

func (f *Fake) IsMember(_ context.Context, guildID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Members[guildID][userID], nil
}

func (f *Fake) CanModerate(_ context.Context, guildID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ModerateErr != nil {
		return false, f.ModerateErr
	}
	if f.Owners[guildID] == userID {
		return false, nil
	}
	return !f.Outranking[userID], nil
}

func (f *Fake) RoleMembers(_ context.Context, _, roleID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Roster[roleID]...), nil
}

func (f *Fake) Ban(_ context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BanErr != nil {
		return f.BanErr
	}
	f.Bans = append(f.Bans, Call{GuildID: guildID, UserID: userID, Reason: reason})
	return nil
}

func (f *Fake) Kick(_ context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.KickErr != nil {
		return f.KickErr
	}
	f.Kicks = append(f.Kicks, Call{GuildID: guildID, UserID: userID, Reason: reason})
	return nil
}

func (f *Fake) CreateRole(_ context.Context, guildID string, params *discordgo.RoleParams, reason string) (*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRoleID++
	f.CreatedRoles = append(f.CreatedRoles, params)
	f.CreateReasons = append(f.CreateReasons, reason)
	role := &discordgo.Role{ID: fmt.Sprintf("new-role-%d", f.nextRoleID), Name: params.Name}
	return role, nil
}

func (f *Fake) MoveRole(_ context.Context, guildID, roleID string, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Moves = append(f.Moves, Call{GuildID: guildID, TargetID: roleID, Reason: fmt.Sprint(position)})
	return nil
}

func (f *Fake) AddMemberRole(_ context.Context, guildID, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Members[guildID][userID] {
		return platform.ErrNotFound
	}
	f.RoleAdds = append(f.RoleAdds, Call{GuildID: guildID, UserID: userID, RoleID: roleID, Reason: reason})
	return nil
}

func (f *Fake) DeleteChannel(_ context.Context, channelID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedChannels = append(f.DeletedChannels, Call{TargetID: channelID, Reason: reason})
	return nil
}

func (f *Fake) GuildWebhooks(_ context.Context, guildID string) ([]*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*discordgo.Webhook(nil), f.Webhooks[guildID]...), nil
}

func (f *Fake) DeleteWebhook(_ context.Context, webhookID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DeletedHooks = append(f.DeletedHooks, Call{TargetID: webhookID, Reason: reason})
	return nil
}

func (f *Fake) SendEmbed(_ context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return f.SendErr
	}
	f.Embeds = append(f.Embeds, SentEmbed{ChannelID: channelID, Embed: embed})
	return nil
}

// Snapshot helpers read recorded calls under the lock.

func (f *Fake) BanCalls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.Bans...)
}

func (f *Fake) KickCalls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.Kicks...)
}

func (f *Fake) SentEmbeds() []SentEmbed {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentEmbed(nil), f.Embeds...)
}

var _ platform.Platform = (*Fake)(nil)
