package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Discord adapts a discordgo session. Reads prefer the gateway state cache
// and fall back to REST.
type Discord struct {
	s *discordgo.Session
}

func NewDiscord(s *discordgo.Session) *Discord {
	return &Discord{s: s}
}

func reqOpts(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

func (d *Discord) BotUserID() string {
	if d.s.State != nil && d.s.State.User != nil {
		return d.s.State.User.ID
	}
	return ""
}

func (d *Discord) guild(ctx context.Context, guildID string) (*discordgo.Guild, error) {
	if d.s.StateEnabled {
		if g, err := d.s.State.Guild(guildID); err == nil {
			return g, nil
		}
	}
	g, err := d.s.Guild(guildID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	return g, err
}

func (d *Discord) roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if d.s.StateEnabled {
		if g, err := d.s.State.Guild(guildID); err == nil && len(g.Roles) > 0 {
			d.s.State.RLock()
			roles := append([]*discordgo.Role(nil), g.Roles...)
			d.s.State.RUnlock()
			return roles, nil
		}
	}
	return d.s.GuildRoles(guildID, discordgo.WithContext(ctx))
}

func (d *Discord) member(ctx context.Context, guildID, userID string) (*discordgo.Member, error) {
	if d.s.StateEnabled {
		if m, err := d.s.State.Member(guildID, userID); err == nil {
			return m, nil
		}
	}
	m, err := d.s.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	return m, err
}

func (d *Discord) GuildOwnerID(ctx context.Context, guildID string) (string, error) {
	g, err := d.guild(ctx, guildID)
	if err != nil {
		return "", err
	}
	return g.OwnerID, nil
}

func (d *Discord) LatestAuditEntry(ctx context.Context, guildID string, action discordgo.AuditLogAction) (*AuditEntry, error) {
	log, err := d.s.GuildAuditLog(guildID, "", "", int(action), 1, discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if log == nil || len(log.AuditLogEntries) == 0 {
		return nil, nil
	}

	raw := log.AuditLogEntries[0]
	created, err := discordgo.SnowflakeTimestamp(raw.ID)
	if err != nil {
		return nil, fmt.Errorf("audit entry %s: %w", raw.ID, err)
	}

	entry := &AuditEntry{
		ID:        raw.ID,
		Action:    action,
		UserID:    raw.UserID,
		TargetID:  raw.TargetID,
		CreatedAt: created,
		Changes:   raw.Changes,
	}
	for _, u := range log.Users {
		if u != nil && u.ID == raw.UserID {
			entry.User = u
			break
		}
	}
	return entry, nil
}

func (d *Discord) User(ctx context.Context, userID string) (*discordgo.User, error) {
	u, err := d.s.User(userID, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return nil, ErrNotFound
	}
	return u, err
}

func (d *Discord) IsMember(ctx context.Context, guildID, userID string) (bool, error) {
	_, err := d.member(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *Discord) CanModerate(ctx context.Context, guildID, userID string) (bool, error) {
	g, err := d.guild(ctx, guildID)
	if err != nil {
		return false, err
	}
	if g.OwnerID == userID {
		return false, nil
	}

	target, err := d.member(ctx, guildID, userID)
	if errors.Is(err, ErrNotFound) {
		// not in the guild: a ban by id has no hierarchy to respect
		return true, nil
	}
	if err != nil {
		return false, err
	}
	self, err := d.member(ctx, guildID, d.BotUserID())
	if err != nil {
		return false, fmt.Errorf("resolve bot member: %w", err)
	}

	roles, err := d.roles(ctx, guildID)
	if err != nil {
		return false, err
	}
	return TopRolePosition(roles, self.Roles) > TopRolePosition(roles, target.Roles), nil
}

func (d *Discord) RoleMembers(ctx context.Context, guildID, roleID string) ([]string, error) {
	if !d.s.StateEnabled {
		return nil, errors.New("member roster needs state tracking")
	}
	g, err := d.s.State.Guild(guildID)
	if err != nil {
		return nil, err
	}

	d.s.State.RLock()
	defer d.s.State.RUnlock()

	var ids []string
	for _, m := range g.Members {
		if m == nil || m.User == nil {
			continue
		}
		for _, r := range m.Roles {
			if r == roleID {
				ids = append(ids, m.User.ID)
				break
			}
		}
	}
	return ids, nil
}

func (d *Discord) Ban(ctx context.Context, guildID, userID, reason string) error {
	return d.s.GuildBanCreateWithReason(guildID, userID, reason, 0, reqOpts(ctx, "")...)
}

func (d *Discord) Kick(ctx context.Context, guildID, userID, reason string) error {
	return d.s.GuildMemberDeleteWithReason(guildID, userID, reason, reqOpts(ctx, "")...)
}

func (d *Discord) CreateRole(ctx context.Context, guildID string, params *discordgo.RoleParams, reason string) (*discordgo.Role, error) {
	return d.s.GuildRoleCreate(guildID, params, reqOpts(ctx, reason)...)
}

func (d *Discord) MoveRole(ctx context.Context, guildID, roleID string, position int) error {
	_, err := d.s.GuildRoleReorder(guildID, []*discordgo.Role{{ID: roleID, Position: position}}, reqOpts(ctx, "")...)
	return err
}

func (d *Discord) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	return d.s.GuildMemberRoleAdd(guildID, userID, roleID, reqOpts(ctx, reason)...)
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID, reason string) error {
	_, err := d.s.ChannelDelete(channelID, reqOpts(ctx, reason)...)
	return err
}

func (d *Discord) GuildWebhooks(ctx context.Context, guildID string) ([]*discordgo.Webhook, error) {
	return d.s.GuildWebhooks(guildID, discordgo.WithContext(ctx))
}

func (d *Discord) DeleteWebhook(ctx context.Context, webhookID, reason string) error {
	return d.s.WebhookDelete(webhookID, reqOpts(ctx, reason)...)
}

func (d *Discord) SendEmbed(ctx context.Context, channelID string, embed *discordgo.MessageEmbed) error {
	_, err := d.s.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	if isNotFound(err) {
		return fmt.Errorf("channel %s: %w", channelID, ErrNotFound)
	}
	return err
}
