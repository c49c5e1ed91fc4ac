package discord

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/notification"
	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/domain/media"
)

// Poster posts a message to a text channel.
type Poster interface {
	Post(channelID, content string) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(channelID, content string) error

// Post calls f(channelID, content).
func (f PosterFunc) Post(channelID, content string) error { return f(channelID, content) }

const relayOutboxSize = 64

type outgoing struct {
	channelID string
	content   string
	event     playback.EventType
}

// Relay posts playback events to Discord. It is a notification.Stream.
// Posts go through an outbox drained by a single goroutine, so they keep
// event order even when a post is slower than the broadcast timeout.
type Relay struct {
	poster      Poster
	lastChannel func() (string, bool)
	prefix      string

	mu        sync.Mutex
	closed    bool
	outbox    chan outgoing
	done      chan struct{}
	closeOnce sync.Once
}

// NewRelay creates a relay and starts its poster. Events about an entry go
// to the channel it was requested from; the rest go to lastChannel.
func NewRelay(poster Poster, lastChannel func() (string, bool), prefix string) *Relay {
	r := &Relay{
		poster:      poster,
		lastChannel: lastChannel,
		prefix:      prefix,
		outbox:      make(chan outgoing, relayOutboxSize),
		done:        make(chan struct{}),
	}
	go r.run()
	return r
}

// Close stops accepting events and waits until queued posts are sent.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.outbox)
		r.mu.Unlock()
	})
	<-r.done
}

func (r *Relay) run() {
	defer close(r.done)
	for out := range r.outbox {
		if err := r.poster.Post(out.channelID, out.content); err != nil {
			zlog.Warn().Msgf("discord: failed to post event: type=%s channel=%s error=%v", out.event, out.channelID, err)
		}
	}
}

// Send queues the message for n, if it has one. It never waits for Discord.
// Post failures are logged and never unsubscribe the relay.
func (r *Relay) Send(n notification.Notice) error {
	text, ok := r.render(n.Event)
	if !ok {
		return nil
	}

	channelID := ""
	if n.Event.Entry != nil {
		channelID = n.Event.Entry.Requester.ChannelID
	}
	if channelID == "" {
		channelID, ok = r.lastChannel()
		if !ok {
			zlog.Debug().Msgf("discord: no channel for event: type=%s", n.Event.Type)
			return nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	select {
	case r.outbox <- outgoing{channelID: channelID, content: text, event: n.Event.Type}:
	default:
		zlog.Warn().Msgf("discord: relay outbox full, dropping post: type=%s channel=%s", n.Event.Type, channelID)
	}
	return nil
}

func (r *Relay) render(ev playback.Event) (string, bool) {
	switch ev.Type {
	case playback.EventNowPlaying:
		if ev.Entry == nil {
			return "", false
		}
		return fmt.Sprintf("Now playing: %s", ev.Entry.Ref), true

	case playback.EventFailed:
		if ev.Entry == nil {
			return "", false
		}
		var pe *media.PlaybackError
		if errors.As(ev.Err, &pe) {
			return fmt.Sprintf("Failed to play audio: %s", ev.Entry.Ref), true
		}
		return fmt.Sprintf("Failed to download audio: %s", ev.Entry.Ref), true

	case playback.EventAllFailed:
		// A single failure was already reported on its own.
		if ev.Count <= 1 {
			return "", false
		}
		return fmt.Sprintf("The last %d songs all failed to play.", ev.Count), true

	case playback.EventSinkUnavailable:
		return fmt.Sprintf("I'm not in a voice channel. Use %sjoin to bring me in.", r.prefix), true

	case playback.EventDisconnectedIdle:
		return "Left the voice channel after being idle.", true
	}
	return "", false
}
