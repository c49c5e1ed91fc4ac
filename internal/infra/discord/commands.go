// Package discord adapts the playback session to a Discord bot: a voice sink,
// prefix commands and a status relay.
package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/app/session"
	"github.com/osa030/jukebot/internal/domain/media"
)

const queueListLimit = 10

// Reply texts.
const (
	msgUsagePlay      = "Usage: %sp <url>"
	msgStopped        = "Playback stopped."
	msgNotPlaying     = "The bot is not playing anything."
	msgFilesDeleted   = "All downloaded files have been deleted."
	msgSkipped        = "Skipped the current song."
	msgNothingToSkip  = "There is no song playing to skip."
	msgJoined         = "Joined <#%s>."
	msgJoinFailed     = "Could not join the voice channel."
	msgLeft           = "Left the voice channel."
	msgNotConnected   = "I'm not in a voice channel."
	msgQueueEmpty     = "The queue is empty."
	msgCommandFailed  = "Something went wrong, please try again."
	msgQueueMore      = "...and %d more"
	msgQueueNow       = "Now playing: %s (requested by %s)"
	msgQueueLoading   = "Loading: %s (requested by %s)"
	msgQueueEntryLine = "%d. %s (requested by %s)"
)

// Session is the playback surface the commands drive.
type Session interface {
	Request(ctx context.Context, ref string, requester media.Requester) (session.RequestResult, error)
	Join(ctx context.Context, guildID, channelID snowflake.ID) error
	Connected() bool
	Skip(ctx context.Context) error
	Stop(ctx context.Context) (playback.StopResult, error)
	Leave(ctx context.Context) (playback.StopResult, error)
	Status(ctx context.Context) (*session.Status, error)
}

// Command is a parsed prefix command with the context it was sent in.
type Command struct {
	Name         string
	Args         string
	GuildID      snowflake.ID
	ChannelID    snowflake.ID
	Author       media.Requester
	VoiceChannel *snowflake.ID // Author's current voice channel, if any
}

// ParseCommand splits content into a command name and its arguments.
// ok is false when content does not start with prefix.
func ParseCommand(prefix, content string) (name, args string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(content), prefix)
	if !found || rest == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Prefix  string
	Message func(code string) string // Maps request codes to reply texts
}

// Dispatcher maps commands to session operations and returns the replies.
type Dispatcher struct {
	config   DispatcherConfig
	session  Session
	handlers map[string]func(ctx context.Context, cmd Command) []string
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config DispatcherConfig, s Session) *Dispatcher {
	d := &Dispatcher{config: config, session: s}
	d.handlers = map[string]func(context.Context, Command) []string{
		"p":     d.play,
		"play":  d.play,
		"s":     d.stop,
		"stop":  d.stop,
		"skip":  d.skip,
		"join":  d.join,
		"leave": d.leave,
		"q":     d.queue,
		"queue": d.queue,
	}
	return d
}

// Handles reports whether name is a known command.
func (d *Dispatcher) Handles(name string) bool {
	_, ok := d.handlers[name]
	return ok
}

// Handle runs cmd and returns the replies to post, in order.
// Unknown commands get no reply.
func (d *Dispatcher) Handle(ctx context.Context, cmd Command) []string {
	h, ok := d.handlers[cmd.Name]
	if !ok {
		return nil
	}
	zlog.Debug().Msgf("discord: command: name=%s author=%s args=%q", cmd.Name, cmd.Author.Name, cmd.Args)
	return h(ctx, cmd)
}

func (d *Dispatcher) play(ctx context.Context, cmd Command) []string {
	if cmd.Args == "" {
		return []string{fmt.Sprintf(msgUsagePlay, d.config.Prefix)}
	}

	if !d.session.Connected() {
		if cmd.VoiceChannel == nil {
			return []string{d.config.Message("not_in_voice")}
		}
		if err := d.session.Join(ctx, cmd.GuildID, *cmd.VoiceChannel); err != nil {
			zlog.Warn().Msgf("discord: join for play failed: %v", err)
			return []string{msgJoinFailed}
		}
	}

	res, err := d.session.Request(ctx, cmd.Args, cmd.Author)
	if err != nil {
		zlog.Error().Msgf("discord: request failed: ref=%s error=%v", cmd.Args, err)
		return []string{msgCommandFailed}
	}
	if !res.Accepted {
		return []string{d.config.Message(res.Code)}
	}
	return []string{fmt.Sprintf(d.config.Message("success"), cmd.Args, res.Position)}
}

func (d *Dispatcher) stop(ctx context.Context, _ Command) []string {
	res, err := d.session.Stop(ctx)
	if err != nil {
		zlog.Error().Msgf("discord: stop failed: %v", err)
		return []string{msgCommandFailed}
	}
	first := msgNotPlaying
	if res.WasActive {
		first = msgStopped
	}
	return []string{first, msgFilesDeleted}
}

func (d *Dispatcher) skip(ctx context.Context, _ Command) []string {
	err := d.session.Skip(ctx)
	switch {
	case err == nil:
		return []string{msgSkipped}
	case errors.Is(err, playback.ErrNothingPlaying):
		return []string{msgNothingToSkip}
	default:
		zlog.Error().Msgf("discord: skip failed: %v", err)
		return []string{msgCommandFailed}
	}
}

func (d *Dispatcher) join(ctx context.Context, cmd Command) []string {
	if cmd.VoiceChannel == nil {
		return []string{d.config.Message("not_in_voice")}
	}
	if err := d.session.Join(ctx, cmd.GuildID, *cmd.VoiceChannel); err != nil {
		zlog.Warn().Msgf("discord: join failed: %v", err)
		return []string{msgJoinFailed}
	}
	return []string{fmt.Sprintf(msgJoined, cmd.VoiceChannel.String())}
}

func (d *Dispatcher) leave(ctx context.Context, _ Command) []string {
	if !d.session.Connected() {
		return []string{msgNotConnected}
	}
	if _, err := d.session.Leave(ctx); err != nil {
		zlog.Error().Msgf("discord: leave failed: %v", err)
		return []string{msgCommandFailed}
	}
	return []string{msgLeft}
}

func (d *Dispatcher) queue(ctx context.Context, _ Command) []string {
	status, err := d.session.Status(ctx)
	if err != nil {
		zlog.Error().Msgf("discord: status failed: %v", err)
		return []string{msgCommandFailed}
	}
	return []string{formatQueue(status.Snapshot)}
}

func formatQueue(snap playback.Snapshot) string {
	if snap.Current == nil && len(snap.Queue) == 0 {
		return msgQueueEmpty
	}

	var lines []string
	if cur := snap.Current; cur != nil {
		format := msgQueueNow
		if snap.State == playback.StateLoading {
			format = msgQueueLoading
		}
		lines = append(lines, fmt.Sprintf(format, cur.Ref, cur.Requester.Name))
	}
	for i, e := range snap.Queue {
		if i == queueListLimit {
			lines = append(lines, fmt.Sprintf(msgQueueMore, len(snap.Queue)-queueListLimit))
			break
		}
		lines = append(lines, fmt.Sprintf(msgQueueEntryLine, i+1, e.Ref, e.Requester.Name))
	}
	return strings.Join(lines, "\n")
}
