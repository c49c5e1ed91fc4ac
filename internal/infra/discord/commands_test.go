package discord

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"

	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/app/session"
	"github.com/osa030/jukebot/internal/domain/media"
)

type fakeSession struct {
	connected bool
	joinErr   error
	joined    []snowflake.ID
	result    session.RequestResult
	requests  []string
	skipErr   error
	stop      playback.StopResult
	left      bool
	snapshot  playback.Snapshot
}

func (f *fakeSession) Request(_ context.Context, ref string, _ media.Requester) (session.RequestResult, error) {
	f.requests = append(f.requests, ref)
	return f.result, nil
}

func (f *fakeSession) Join(_ context.Context, _, channelID snowflake.ID) error {
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joined = append(f.joined, channelID)
	f.connected = true
	return nil
}

func (f *fakeSession) Connected() bool { return f.connected }

func (f *fakeSession) Skip(context.Context) error { return f.skipErr }

func (f *fakeSession) Stop(context.Context) (playback.StopResult, error) { return f.stop, nil }

func (f *fakeSession) Leave(context.Context) (playback.StopResult, error) {
	f.left = true
	f.connected = false
	return playback.StopResult{}, nil
}

func (f *fakeSession) Status(context.Context) (*session.Status, error) {
	return &session.Status{Snapshot: f.snapshot}, nil
}

func messages(code string) string {
	switch code {
	case "success":
		return "Added to queue: %s (position %d)"
	case "not_in_voice":
		return "You need to be in a voice channel."
	default:
		return "rejected: " + code
	}
}

func newTestDispatcher(s *fakeSession) *Dispatcher {
	return NewDispatcher(DispatcherConfig{Prefix: ".", Message: messages}, s)
}

func voiceChannel(id snowflake.ID) *snowflake.ID { return &id }

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content  string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{".p https://youtu.be/x", "p", "https://youtu.be/x", true},
		{"  .PLAY   https://youtu.be/x  ", "play", "https://youtu.be/x", true},
		{".skip", "skip", "", true},
		{".p some search words", "p", "some search words", true},
		{"p https://youtu.be/x", "", "", false},
		{".", "", "", false},
		{". p", "", "", false},
		{"hello", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			name, args, ok := ParseCommand(".", tt.content)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestDispatcher_Play(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		session    *fakeSession
		cmd        Command
		want       []string
		wantJoined bool
	}{
		{
			name:    "missing reference",
			session: &fakeSession{connected: true},
			cmd:     Command{Name: "p"},
			want:    []string{"Usage: .p <url>"},
		},
		{
			name:    "accepted while connected",
			session: &fakeSession{connected: true, result: session.RequestResult{Accepted: true, Position: 2}},
			cmd:     Command{Name: "p", Args: "https://youtu.be/x"},
			want:    []string{"Added to queue: https://youtu.be/x (position 2)"},
		},
		{
			name:    "requester not in voice",
			session: &fakeSession{},
			cmd:     Command{Name: "play", Args: "https://youtu.be/x"},
			want:    []string{"You need to be in a voice channel."},
		},
		{
			name:       "joins the requester's channel",
			session:    &fakeSession{result: session.RequestResult{Accepted: true, Position: 1}},
			cmd:        Command{Name: "p", Args: "https://youtu.be/x", VoiceChannel: voiceChannel(42)},
			want:       []string{"Added to queue: https://youtu.be/x (position 1)"},
			wantJoined: true,
		},
		{
			name:    "join failure",
			session: &fakeSession{joinErr: errors.New("timeout")},
			cmd:     Command{Name: "p", Args: "https://youtu.be/x", VoiceChannel: voiceChannel(42)},
			want:    []string{msgJoinFailed},
		},
		{
			name:    "rejected",
			session: &fakeSession{connected: true, result: session.RequestResult{Code: "rate_limited"}},
			cmd:     Command{Name: "p", Args: "https://youtu.be/x"},
			want:    []string{"rejected: rate_limited"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher(tt.session)
			assert.Equal(t, tt.want, d.Handle(ctx, tt.cmd))
			if tt.wantJoined {
				assert.Equal(t, []snowflake.ID{42}, tt.session.joined)
			} else {
				assert.Empty(t, tt.session.joined)
			}
		})
	}
}

func TestDispatcher_Stop(t *testing.T) {
	ctx := context.Background()

	s := &fakeSession{stop: playback.StopResult{WasActive: true}}
	assert.Equal(t, []string{msgStopped, msgFilesDeleted}, newTestDispatcher(s).Handle(ctx, Command{Name: "s"}))

	s = &fakeSession{}
	assert.Equal(t, []string{msgNotPlaying, msgFilesDeleted}, newTestDispatcher(s).Handle(ctx, Command{Name: "stop"}))
}

func TestDispatcher_Skip(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		err  error
		want string
	}{
		{nil, msgSkipped},
		{playback.ErrNothingPlaying, msgNothingToSkip},
		{playback.ErrClosed, msgCommandFailed},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.err), func(t *testing.T) {
			d := newTestDispatcher(&fakeSession{skipErr: tt.err})
			assert.Equal(t, []string{tt.want}, d.Handle(ctx, Command{Name: "skip"}))
		})
	}
}

func TestDispatcher_JoinLeave(t *testing.T) {
	ctx := context.Background()
	s := &fakeSession{}
	d := newTestDispatcher(s)

	assert.Equal(t, []string{"You need to be in a voice channel."}, d.Handle(ctx, Command{Name: "join"}))
	assert.Equal(t, []string{msgNotConnected}, d.Handle(ctx, Command{Name: "leave"}))

	assert.Equal(t, []string{"Joined <#42>."}, d.Handle(ctx, Command{Name: "join", VoiceChannel: voiceChannel(42)}))
	assert.True(t, s.connected)

	assert.Equal(t, []string{msgLeft}, d.Handle(ctx, Command{Name: "leave"}))
	assert.True(t, s.left)
}

func TestDispatcher_Queue(t *testing.T) {
	ctx := context.Background()
	alice := media.Requester{Name: "alice"}

	s := &fakeSession{}
	d := newTestDispatcher(s)
	assert.Equal(t, []string{msgQueueEmpty}, d.Handle(ctx, Command{Name: "q"}))

	s.snapshot = playback.Snapshot{
		State:   playback.StatePlaying,
		Current: &media.QueueEntry{Ref: "a", Requester: alice},
		Queue:   []media.QueueEntry{{Ref: "b", Requester: alice}, {Ref: "c", Requester: alice}},
	}
	assert.Equal(t, []string{
		"Now playing: a (requested by alice)\n" +
			"1. b (requested by alice)\n" +
			"2. c (requested by alice)",
	}, d.Handle(ctx, Command{Name: "queue"}))
}

func TestFormatQueue_Limit(t *testing.T) {
	var queue []media.QueueEntry
	for i := 0; i < queueListLimit+3; i++ {
		queue = append(queue, media.QueueEntry{Ref: fmt.Sprintf("r%d", i), Requester: media.Requester{Name: "u"}})
	}

	out := formatQueue(playback.Snapshot{
		State:   playback.StateLoading,
		Current: &media.QueueEntry{Ref: "x", Requester: media.Requester{Name: "u"}},
		Queue:   queue,
	})

	assert.Contains(t, out, "Loading: x (requested by u)")
	assert.Contains(t, out, "10. r9 (requested by u)")
	assert.NotContains(t, out, "r10")
	assert.Contains(t, out, "...and 3 more")
}

func TestDispatcher_Unknown(t *testing.T) {
	d := newTestDispatcher(&fakeSession{})
	assert.False(t, d.Handles("dance"))
	assert.Nil(t, d.Handle(context.Background(), Command{Name: "dance"}))
}
