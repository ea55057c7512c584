package commands

import (
	"discord-antinuke-bot/internal/commands/antinuke"

	"github.com/bwmarrin/discordgo"
)

var Commands = []*discordgo.ApplicationCommand{
	Ping,
	antinuke.AntiNukeCmd,
}
