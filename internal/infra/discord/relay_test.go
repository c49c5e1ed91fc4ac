package discord

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/jukebot/internal/app/notification"
	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/domain/media"
)

type post struct {
	channel string
	content string
}

func TestRelay_Send(t *testing.T) {
	entry := &media.QueueEntry{Ref: "https://youtu.be/x", Requester: media.Requester{ChannelID: "100"}}
	adminEntry := &media.QueueEntry{Ref: "https://youtu.be/y", Requester: media.Requester{Type: media.RequesterTypeAdmin}}

	tests := []struct {
		name string
		ev   playback.Event
		want []post
	}{
		{
			name: "now playing goes to the requester's channel",
			ev:   playback.Event{Type: playback.EventNowPlaying, Entry: entry},
			want: []post{{"100", "Now playing: https://youtu.be/x"}},
		},
		{
			name: "entry without channel falls back to the last command channel",
			ev:   playback.Event{Type: playback.EventNowPlaying, Entry: adminEntry},
			want: []post{{"999", "Now playing: https://youtu.be/y"}},
		},
		{
			name: "fetch failure",
			ev: playback.Event{Type: playback.EventFailed, Entry: entry,
				Err: &media.FetchError{Ref: entry.Ref, Cause: errors.New("exit 1")}},
			want: []post{{"100", "Failed to download audio: https://youtu.be/x"}},
		},
		{
			name: "playback failure",
			ev: playback.Event{Type: playback.EventFailed, Entry: entry,
				Err: &media.PlaybackError{Ref: entry.Ref, Cause: errors.New("ffmpeg")}},
			want: []post{{"100", "Failed to play audio: https://youtu.be/x"}},
		},
		{
			name: "single failure streak is not repeated",
			ev:   playback.Event{Type: playback.EventAllFailed, Count: 1},
		},
		{
			name: "failure streak",
			ev:   playback.Event{Type: playback.EventAllFailed, Count: 3},
			want: []post{{"999", "The last 3 songs all failed to play."}},
		},
		{
			name: "idle disconnect",
			ev:   playback.Event{Type: playback.EventDisconnectedIdle},
			want: []post{{"999", "Left the voice channel after being idle."}},
		},
		{
			name: "sink unavailable",
			ev:   playback.Event{Type: playback.EventSinkUnavailable},
			want: []post{{"999", "I'm not in a voice channel. Use .join to bring me in."}},
		},
		{
			name: "queued is silent",
			ev:   playback.Event{Type: playback.EventQueued, Entry: entry},
		},
		{
			name: "finished is silent",
			ev:   playback.Event{Type: playback.EventFinished, Entry: entry},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []post
			r := NewRelay(PosterFunc(func(channelID, content string) error {
				got = append(got, post{channelID, content})
				return nil
			}), func() (string, bool) { return "999", true }, ".")

			assert.NoError(t, r.Send(notification.Notice{Event: tt.ev}))
			r.Close()
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelay_NoChannel(t *testing.T) {
	called := false
	r := NewRelay(PosterFunc(func(string, string) error {
		called = true
		return nil
	}), func() (string, bool) { return "", false }, ".")

	assert.NoError(t, r.Send(notification.Notice{Event: playback.Event{Type: playback.EventDisconnectedIdle}}))
	r.Close()
	assert.False(t, called)
}

func TestRelay_PostErrorKeepsSubscription(t *testing.T) {
	r := NewRelay(PosterFunc(func(string, string) error {
		return errors.New("discord down")
	}), func() (string, bool) { return "1", true }, ".")

	assert.NoError(t, r.Send(notification.Notice{Event: playback.Event{Type: playback.EventDisconnectedIdle}}))
	r.Close()
}

func TestRelay_SlowPostKeepsOrder(t *testing.T) {
	release := make(chan struct{})
	var got []string
	r := NewRelay(PosterFunc(func(_, content string) error {
		if len(got) == 0 {
			<-release
		}
		got = append(got, content)
		return nil
	}), func() (string, bool) { return "1", true }, ".")

	bad := &media.QueueEntry{Ref: "bad"}
	good := &media.QueueEntry{Ref: "good"}

	// Send returns while the first post is still blocked.
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		_ = r.Send(notification.Notice{SequenceNo: 1, Event: playback.Event{Type: playback.EventFailed, Entry: bad,
			Err: &media.FetchError{Ref: "bad", Cause: errors.New("exit 1")}}})
		_ = r.Send(notification.Notice{SequenceNo: 2, Event: playback.Event{Type: playback.EventNowPlaying, Entry: good}})
	}()
	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("Send waited for a slow post")
	}

	close(release)
	r.Close()
	assert.Equal(t, []string{"Failed to download audio: bad", "Now playing: good"}, got)

	// Events after Close are ignored.
	assert.NoError(t, r.Send(notification.Notice{Event: playback.Event{Type: playback.EventDisconnectedIdle}}))
	assert.Len(t, got, 2)
}
