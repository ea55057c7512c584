package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

var Ping = &discordgo.ApplicationCommand{
	Name:        "ping",
	Description: "Check bot, database and redis latency",
}

// Pinger is anything with a round trip worth timing.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandlePing reports gateway, store and KV latency.
func HandlePing(s *discordgo.Session, i *discordgo.InteractionCreate, db, rdb Pinger) {
	created, _ := discordgo.SnowflakeTimestamp(i.ID)
	botLatency := time.Since(created)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	embed := PingEmbed(ctx, botLatency, s.HeartbeatLatency(), db, rdb)
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
}

// PingEmbed measures db and rdb concurrently and renders the result.
func PingEmbed(ctx context.Context, botLatency, apiLatency time.Duration, db, rdb Pinger) *discordgo.MessageEmbed {
	var dbLatency, redisLatency time.Duration
	var errDB, errRedis error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		errDB = db.Ping(ctx)
		dbLatency = time.Since(start)
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		errRedis = rdb.Ping(ctx)
		redisLatency = time.Since(start)
	}()
	wg.Wait()

	return &discordgo.MessageEmbed{
		Title: "Pong!",
		Color: 0x2b2d31,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Bot Latency", Value: latencyValue(botLatency, nil), Inline: true},
			{Name: "API Latency", Value: latencyValue(apiLatency, nil), Inline: true},
			{Name: "Database", Value: latencyValue(dbLatency, errDB), Inline: true},
			{Name: "Redis", Value: latencyValue(redisLatency, errRedis), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

func latencyValue(d time.Duration, err error) string {
	if err != nil {
		return "`Error`"
	}
	return fmt.Sprintf("`%dms`", d.Milliseconds())
}
