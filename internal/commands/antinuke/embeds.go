package antinuke

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"discord-antinuke-bot/internal/antinuke/eventlog"
	"discord-antinuke-bot/internal/models"

	"github.com/bwmarrin/discordgo"
)

// Embed colors
const (
	ColorSuccess = 0x2b2d31 // Dark gray for success
	ColorError   = 0xed4245 // Red for errors
	ColorInfo    = 0x5865f2 // Blurple for info
)

const footer = "AntiNuke System"

// CreateSuccessEmbed creates a clean success embed
func CreateSuccessEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "✓ " + title,
		Description: description,
		Color:       ColorSuccess,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
}

// CreateErrorEmbed creates a clean error embed
func CreateErrorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "✗ " + title,
		Description: description,
		Color:       ColorError,
		Timestamp:   time.Now().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
}

// CreateInfoEmbed creates a clean info embed
func CreateInfoEmbed(title string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:     title,
		Color:     ColorInfo,
		Timestamp: time.Now().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: footer},
	}
}

// CreateSettingsEmbed renders every setting of a guild. names resolves
// trusted admin ids to display names; unknown ids are shown as mentions.
func CreateSettingsEmbed(settings *models.GuildSettings, names map[string]string) *discordgo.MessageEmbed {
	embed := CreateInfoEmbed("AntiNuke Settings")

	logChannel := "Unset"
	if settings.LogChannelID != "" {
		logChannel = fmt.Sprintf("<#%s>", settings.LogChannelID)
	}

	admins := "None"
	if len(settings.TrustedAdmins) > 0 {
		lines := make([]string, 0, len(settings.TrustedAdmins))
		for _, id := range settings.TrustedAdmins {
			if name, ok := names[id]; ok {
				lines = append(lines, name)
			} else {
				lines = append(lines, fmt.Sprintf("<@%s>", id))
			}
		}
		admins = strings.Join(lines, "\n")
	}

	embed.Fields = []*discordgo.MessageEmbedField{
		{Name: "Webhook Protection", Value: onOff(settings.WebhookMentionProtectionOn), Inline: true},
		{Name: "Bot Add Protection", Value: onOff(settings.BotJoinProtectionOn), Inline: true},
		{Name: "Log Channel", Value: logChannel, Inline: true},
		{Name: "Vanity Protection", Value: onOff(settings.VanityProtectionOn), Inline: true},
		{Name: "Trusted Admins", Value: admins, Inline: true},
	}
	for _, action := range models.ThresholdActions {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   action.LogActionType() + " Threshold",
			Value:  thresholdValue(settings.Threshold(action)),
			Inline: true,
		})
	}
	return embed
}

func onOff(on bool) string {
	if on {
		return "On"
	}
	return "Disabled"
}

func thresholdValue(n int) string {
	if n == 0 {
		return "Disabled"
	}
	return strconv.Itoa(n)
}

func userLabel(u *discordgo.User) string {
	if u == nil {
		return "Unknown"
	}
	if u.Username == "" {
		return fmt.Sprintf("<@%s>", u.ID)
	}
	return eventlog.UserTag(u)
}
