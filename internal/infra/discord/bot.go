package discord

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/domain/media"
)

const defaultCommandTimeout = 60 * time.Second

// BotConfig holds Discord client configuration.
type BotConfig struct {
	Token          string
	Prefix         string
	GuildID        snowflake.ID // Only this guild is served when set
	CommandTimeout time.Duration
}

// Bot is the Discord gateway client. It turns prefix messages into commands
// and posts the replies.
type Bot struct {
	config BotConfig
	client *bot.Client

	dispatcher *Dispatcher
	onCommand  func(channelID string)
	onKicked   func(ctx context.Context)
}

// NewBot creates the Discord client. Call Handle before Open.
func NewBot(config BotConfig) (*Bot, error) {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = defaultCommandTimeout
	}
	b := &Bot{config: config}

	client, err := disgo.New(config.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMessages,
				gateway.IntentMessageContent,
				gateway.IntentGuildVoiceStates,
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(b.onMessageCreate),
		bot.WithEventListenerFunc(b.onVoiceStateUpdate),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord client")
	}
	b.client = client
	return b, nil
}

// Handle routes commands to d. onCommand is told the text channel of every
// command; onKicked runs when the bot is disconnected from voice by someone else.
func (b *Bot) Handle(d *Dispatcher, onCommand func(channelID string), onKicked func(ctx context.Context)) {
	b.dispatcher = d
	b.onCommand = onCommand
	b.onKicked = onKicked
}

// VoiceManager returns the client's voice manager.
func (b *Bot) VoiceManager() voice.Manager {
	return b.client.VoiceManager
}

// Open connects to the gateway.
func (b *Bot) Open(ctx context.Context) error {
	if err := b.client.OpenGateway(ctx); err != nil {
		return errors.Wrap(err, "failed to open gateway")
	}
	zlog.Info().Msgf("discord: gateway opened: prefix=%s", b.config.Prefix)
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close(ctx context.Context) {
	b.client.Close(ctx)
}

// Post sends content to a text channel.
func (b *Bot) Post(channelID, content string) error {
	id, err := snowflake.Parse(channelID)
	if err != nil {
		return errors.Wrapf(err, "invalid channel id: %s", channelID)
	}
	_, err = b.client.Rest.CreateMessage(id, discord.MessageCreate{Content: content})
	return errors.Wrap(err, "create message")
}

func (b *Bot) onMessageCreate(e *events.MessageCreate) {
	if b.dispatcher == nil || e.Message.Author.Bot || e.GuildID == nil {
		return
	}
	if b.config.GuildID != 0 && *e.GuildID != b.config.GuildID {
		return
	}

	name, args, ok := ParseCommand(b.config.Prefix, e.Message.Content)
	if !ok || !b.dispatcher.Handles(name) {
		return
	}

	author := e.Message.Author
	cmd := Command{
		Name:      name,
		Args:      args,
		GuildID:   *e.GuildID,
		ChannelID: e.ChannelID,
		Author: media.Requester{
			ID:        author.ID.String(),
			Name:      author.Username,
			ChannelID: e.ChannelID.String(),
			Type:      media.RequesterTypeUser,
		},
	}
	if vs, ok := e.Client().Caches.VoiceState(*e.GuildID, author.ID); ok && vs.ChannelID != nil {
		ch := *vs.ChannelID
		cmd.VoiceChannel = &ch
	}

	if b.onCommand != nil {
		b.onCommand(cmd.ChannelID.String())
	}

	// Joining voice waits for gateway events, so never block the listener.
	go b.run(cmd)
}

func (b *Bot) run(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), b.config.CommandTimeout)
	defer cancel()

	for _, reply := range b.dispatcher.Handle(ctx, cmd) {
		if err := b.Post(cmd.ChannelID.String(), reply); err != nil {
			zlog.Warn().Msgf("discord: failed to reply: command=%s error=%v", cmd.Name, err)
			return
		}
	}
}

func (b *Bot) onVoiceStateUpdate(e *events.GuildVoiceStateUpdate) {
	if e.VoiceState.UserID != e.Client().ID() || e.VoiceState.ChannelID != nil {
		return
	}
	if b.config.GuildID != 0 && e.VoiceState.GuildID != b.config.GuildID {
		return
	}
	zlog.Info().Msgf("discord: disconnected from voice externally: guild=%s", e.VoiceState.GuildID)
	if b.onKicked != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), b.config.CommandTimeout)
			defer cancel()
			b.onKicked(ctx)
		}()
	}
}
