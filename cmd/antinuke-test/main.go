// Command antinuke-test runs a nuke drill against a test guild with a second
// bot account, so a running antinuke can be watched reacting to it.
//
// The drill account must not be trusted, an operator, or the guild owner.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	stepColor = color.New(color.FgHiCyan)
	okColor   = color.New(color.FgHiGreen)
	failColor = color.New(color.FgHiRed)
	dimColor  = color.New(color.FgHiBlack)
)

type drill struct {
	s        *discordgo.Session
	guildID  string
	delay    time.Duration
	parallel int

	mu       sync.Mutex
	channels []string
	roles    []string
	failures int
}

func main() {
	_ = godotenv.Load()

	guildID := flag.String("guild", os.Getenv("DRILL_GUILD_ID"), "guild to run the drill in")
	scenario := flag.String("scenario", "full", "channels, roles or full")
	channels := flag.Int("channels", 5, "channels to create then delete")
	roles := flag.Int("roles", 5, "roles to create then delete")
	delay := flag.Duration("delay", 100*time.Millisecond, "pause between sequential operations, 0 fires them concurrently")
	parallel := flag.Int("parallel", 5, "concurrent requests when delay is 0")
	flag.Parse()

	token := os.Getenv("DRILL_TOKEN")
	if token == "" || *guildID == "" {
		failColor.Fprintln(os.Stderr, "DRILL_TOKEN and -guild (or DRILL_GUILD_ID) are required")
		os.Exit(2)
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		failColor.Fprintf(os.Stderr, "session: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	d := &drill{s: s, guildID: *guildID, delay: *delay, parallel: *parallel}
	start := time.Now()

	switch *scenario {
	case "channels":
		d.run(ctx, "create channels", *channels, d.createChannel)
		d.run(ctx, "delete channels", len(d.channels), d.deleteChannel)
	case "roles":
		d.run(ctx, "create roles", *roles, d.createRole)
		d.run(ctx, "delete roles", len(d.roles), d.deleteRole)
	case "full":
		d.run(ctx, "create channels", *channels, d.createChannel)
		d.run(ctx, "create roles", *roles, d.createRole)
		d.run(ctx, "delete channels", len(d.channels), d.deleteChannel)
		d.run(ctx, "delete roles", len(d.roles), d.deleteRole)
	default:
		failColor.Fprintf(os.Stderr, "unknown scenario %q\n", *scenario)
		os.Exit(2)
	}

	fmt.Println()
	dimColor.Printf("finished in %s\n", time.Since(start).Round(time.Millisecond))
	if d.failures > 0 {
		// failures after the threshold usually mean the drill account was banned
		failColor.Printf("%d operations failed\n", d.failures)
		os.Exit(1)
	}
	okColor.Println("all operations succeeded, check the log channel for the antinuke verdict")
}

// run executes op n times, sequentially with delay or concurrently when delay is 0.
func (d *drill) run(ctx context.Context, name string, n int, op func(ctx context.Context, i int) error) {
	if n == 0 {
		return
	}
	stepColor.Printf("== %s (%d)\n", name, n)

	if d.delay > 0 {
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				return
			}
			d.report(name, i, op(ctx, i))
			time.Sleep(d.delay)
		}
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			d.report(name, i, op(gctx, i))
			return nil
		})
	}
	_ = g.Wait()
}

func (d *drill) report(name string, i int, err error) {
	if err != nil {
		d.mu.Lock()
		d.failures++
		d.mu.Unlock()
		failColor.Printf("  %s #%d: %v\n", name, i+1, err)
		return
	}
	okColor.Printf("  %s #%d ok\n", name, i+1)
}

func (d *drill) createChannel(ctx context.Context, i int) error {
	ch, err := d.s.GuildChannelCreate(d.guildID, fmt.Sprintf("drill-channel-%d", i+1), discordgo.ChannelTypeGuildText, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.channels = append(d.channels, ch.ID)
	d.mu.Unlock()
	return nil
}

func (d *drill) deleteChannel(ctx context.Context, i int) error {
	d.mu.Lock()
	id := d.channels[i]
	d.mu.Unlock()
	_, err := d.s.ChannelDelete(id, discordgo.WithContext(ctx))
	return err
}

func (d *drill) createRole(ctx context.Context, i int) error {
	name := fmt.Sprintf("drill-role-%d", i+1)
	role, err := d.s.GuildRoleCreate(d.guildID, &discordgo.RoleParams{Name: name}, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.roles = append(d.roles, role.ID)
	d.mu.Unlock()
	return nil
}

func (d *drill) deleteRole(ctx context.Context, i int) error {
	d.mu.Lock()
	id := d.roles[i]
	d.mu.Unlock()
	return d.s.GuildRoleDelete(d.guildID, id, discordgo.WithContext(ctx))
}
