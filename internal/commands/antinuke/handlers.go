package antinuke

import (
	"context"
	"time"

	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// commandTimeout bounds the store and platform calls of one interaction.
const commandTimeout = 10 * time.Second

const notTrustedMessage = "This setting can only be updated by a trusted admin"

// Store is the persistent side of the settings.
type Store interface {
	SetLogChannel(ctx context.Context, guildID, channelID string) error
	SetProtection(ctx context.Context, guildID string, action models.ActionKind, enabled bool) error
	SetThreshold(ctx context.Context, guildID string, action models.ActionKind, threshold int) error
	ToggleTrustedAdmin(ctx context.Context, guildID, userID, addedBy string) (bool, error)
	RemoveTrustedAdmins(ctx context.Context, guildID string, userIDs []string) error
}

// Guilds answers the membership questions the commands ask.
type Guilds interface {
	GuildOwnerID(ctx context.Context, guildID string) (string, error)
	IsMember(ctx context.Context, guildID, userID string) (bool, error)
	User(ctx context.Context, userID string) (*discordgo.User, error)
}

type Operators interface {
	IsOperator(userID string) bool
}

// Handler serves /antinuke.
type Handler struct {
	store     Store
	settings  *core.SettingsCache
	passports *core.PassportStore
	guilds    Guilds
	operators Operators
	logger    *zap.Logger
}

func NewHandler(store Store, settings *core.SettingsCache, passports *core.PassportStore, guilds Guilds, operators Operators, logger *zap.Logger) *Handler {
	return &Handler{
		store:     store,
		settings:  settings,
		passports: passports,
		guilds:    guilds,
		operators: operators,
		logger:    logger.Named("commands"),
	}
}

// invocation is one /antinuke call with its options flattened by name.
type invocation struct {
	GuildID  string
	CallerID string
	Sub      string
	Options  map[string]*discordgo.ApplicationCommandInteractionDataOption
	Resolved *discordgo.ApplicationCommandInteractionDataResolved
}

// HandleAntiNuke handles every /antinuke subcommand
func (h *Handler) HandleAntiNuke(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		respond(s, i, CreateErrorEmbed("Unavailable", "This command can only be used in a server"))
		return
	}
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sub := data.Options[0]
	inv := invocation{
		GuildID:  i.GuildID,
		CallerID: i.Member.User.ID,
		Sub:      sub.Name,
		Options:  make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(sub.Options)),
		Resolved: data.Resolved,
	}
	for _, opt := range sub.Options {
		inv.Options[opt.Name] = opt
	}

	respond(s, i, h.run(ctx, inv))
}

func (h *Handler) run(ctx context.Context, inv invocation) *discordgo.MessageEmbed {
	if inv.Sub != "settings" {
		trusted, err := h.isTrusted(ctx, inv.GuildID, inv.CallerID)
		if err != nil {
			h.logger.Warn("trusted check failed", zap.String("guild_id", inv.GuildID), zap.Error(err))
			return CreateErrorEmbed("Error", "Could not verify your permissions")
		}
		if !trusted {
			if inv.Sub == "passport" {
				return CreateErrorEmbed("Not Allowed", "Passports can only be created by trusted admins")
			}
			return CreateErrorEmbed("Not Allowed", notTrustedMessage)
		}
	}

	var embed *discordgo.MessageEmbed
	var err error
	switch inv.Sub {
	case "log":
		embed, err = h.handleLog(ctx, inv)
	case "passport":
		embed, err = h.handlePassport(ctx, inv)
	case "webhook":
		embed, err = h.handleToggle(ctx, inv, models.ActionWebhookMention, "Webhook protection")
	case "botadd":
		embed, err = h.handleToggle(ctx, inv, models.ActionBotAdd, "Bot add protection")
	case "vanity":
		embed, err = h.handleToggle(ctx, inv, models.ActionVanity, "Vanity protection")
	case "threshold":
		embed, err = h.handleThreshold(ctx, inv)
	case "trust":
		embed, err = h.handleTrust(ctx, inv)
	case "settings":
		embed, err = h.handleSettings(ctx, inv)
	default:
		return CreateErrorEmbed("Unknown Command", "Unknown subcommand "+inv.Sub)
	}
	if err != nil {
		h.logger.Error("antinuke command failed",
			zap.String("guild_id", inv.GuildID),
			zap.String("subcommand", inv.Sub),
			zap.Error(err),
		)
		return CreateErrorEmbed("Database Error", "Failed to update settings: "+err.Error())
	}
	return embed
}

// isTrusted reports whether userID may change settings: the guild owner,
// an operator, or a listed trusted admin.
func (h *Handler) isTrusted(ctx context.Context, guildID, userID string) (bool, error) {
	if h.operators.IsOperator(userID) {
		return true, nil
	}
	ownerID, err := h.guilds.GuildOwnerID(ctx, guildID)
	if err != nil {
		return false, err
	}
	if userID == ownerID {
		return true, nil
	}
	settings, err := h.settings.Get(ctx, guildID)
	if err != nil {
		return false, err
	}
	return settings.IsTrusted(userID), nil
}

// refresh invalidates the projection after a mutation.
func (h *Handler) refresh(ctx context.Context, guildID string) (*models.GuildSettings, error) {
	return h.settings.Refresh(ctx, guildID)
}

func (inv invocation) user(name string) *discordgo.User {
	opt, ok := inv.Options[name]
	if !ok {
		return nil
	}
	u := opt.UserValue(nil)
	if inv.Resolved != nil {
		if resolved, ok := inv.Resolved.Users[u.ID]; ok {
			return resolved
		}
	}
	return u
}

func respond(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}
