package bot

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"discord-antinuke-bot/internal/antinuke"
	"discord-antinuke-bot/internal/antinuke/core"
	"discord-antinuke-bot/internal/antinuke/platform"
	"discord-antinuke-bot/internal/commands"
	ancommands "discord-antinuke-bot/internal/commands/antinuke"
	"discord-antinuke-bot/internal/config"
	"discord-antinuke-bot/internal/database"
	"discord-antinuke-bot/internal/models"
	"discord-antinuke-bot/internal/redis"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const heartbeatInterval = 30 * time.Second

type Bot struct {
	Session   *discordgo.Session
	DB        *database.Database
	Redis     *redis.Client
	Settings  *core.SettingsCache
	AntiNuke  *antinuke.Service
	Commands  *ancommands.Handler
	StartTime time.Time
	Logger    *zap.Logger

	done chan struct{}
}

func New(cfg config.Config, db *database.Database, rdb *redis.Client, logger *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("session error: %w", err)
	}

	// Pooled keep-alive transport for REST; ban latency matters more than bandwidth
	tr := &http.Transport{
		MaxIdleConns:          500,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       120 * time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		MaxConnsPerHost:       100,
		ResponseHeaderTimeout: 5 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		WriteBufferSize:       32 * 1024,
		ReadBufferSize:        32 * 1024,
	}
	s.Client = &http.Client{
		Transport: &PerfTransport{Base: tr},
		Timeout:   15 * time.Second,
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans | // GUILD_MODERATION: ban add/remove
		discordgo.IntentsGuildEmojis |
		discordgo.IntentsGuildWebhooks |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent

	// Role rosters are snapshotted from state, so members and roles must be tracked
	s.StateEnabled = true
	s.State.TrackChannels = true
	s.State.TrackRoles = true
	s.State.TrackMembers = true
	s.State.TrackEmojis = false
	s.State.TrackVoice = false
	s.State.TrackPresences = false
	s.State.MaxMessageCount = 0

	s.ShouldReconnectOnError = true
	s.ShouldRetryOnRateLimit = true
	s.MaxRestRetries = 3

	logger = logger.Named("bot")

	settings, err := core.NewSettingsCache(db, logger)
	if err != nil {
		return nil, err
	}

	operators := models.NewIDSet(cfg.Antinuke.Operators...)
	svc := antinuke.New(s, rdb, settings, antinuke.Options{
		Operators:       operators,
		SiblingBots:     models.NewIDSet(cfg.Antinuke.SiblingBots...),
		AuditRate:       cfg.Antinuke.AuditRatePerSecond,
		AuditBurst:      cfg.Antinuke.AuditBurst,
		AuditMaxAge:     time.Duration(cfg.Antinuke.AuditMaxAgeSeconds) * time.Second,
		VanityClockSkew: time.Duration(cfg.Antinuke.VanityClockSkewMs) * time.Millisecond,
		RequestMembers:  cfg.Antinuke.RequestMembers,
	}, logger)

	b := &Bot{
		Session:   s,
		DB:        db,
		Redis:     rdb,
		Settings:  settings,
		AntiNuke:  svc,
		Commands:  ancommands.NewHandler(db, settings, svc.Passports(), platform.NewDiscord(s), operators, logger),
		StartTime: time.Now(),
		Logger:    logger,
		done:      make(chan struct{}),
	}

	s.AddHandler(b.Ready)
	s.AddHandler(b.InteractionCreate)

	return b, nil
}

// Start connects, registers commands and blocks until SIGINT or SIGTERM.
func (b *Bot) Start() error {
	// Subscribe before the gateway opens so no GUILD_CREATE is missed
	b.AntiNuke.Start()

	b.Logger.Info("connecting to discord gateway")
	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("gateway connection failed: %w", err)
	}

	if b.Session.State.User == nil {
		u, err := b.Session.User("@me")
		if err != nil {
			return fmt.Errorf("failed to get bot user: %w", err)
		}
		b.Session.State.User = u
	}
	b.Logger.Info("logged in",
		zap.String("user", b.Session.State.User.Username),
		zap.String("user_id", b.Session.State.User.ID),
	)

	go b.monitorHeartbeat(heartbeatInterval, b.done)

	_, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, "", commands.Commands)
	if err != nil {
		return fmt.Errorf("failed to register commands: %w", err)
	}
	b.Logger.Info("registered commands", zap.Int("count", len(commands.Commands)))

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	return b.Close()
}

// Close stops the engine first so no handler touches a closed store.
func (b *Bot) Close() error {
	b.Logger.Info("shutting down", zap.Duration("uptime", time.Since(b.StartTime)))
	close(b.done)

	if err := b.AntiNuke.Close(); err != nil {
		b.Logger.Warn("antinuke shutdown incomplete", zap.Error(err))
	}
	err := b.Session.Close()

	b.Settings.Close()
	if cerr := b.Redis.Close(); cerr != nil {
		b.Logger.Warn("redis close failed", zap.Error(cerr))
	}
	if cerr := b.DB.Close(); cerr != nil {
		b.Logger.Warn("database close failed", zap.Error(cerr))
	}
	return err
}
