package discord

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/playback"
)

// ErrBusy is returned by Play while another asset is streaming.
var ErrBusy = errors.New("voice sink is already playing")

// voiceConn is the part of voice.Conn the sink drives.
type voiceConn interface {
	Open(ctx context.Context, channelID snowflake.ID, selfMute bool, selfDeaf bool) error
	Close(ctx context.Context)
	SetOpusFrameProvider(provider voice.OpusFrameProvider)
	SetSpeaking(ctx context.Context, flags voice.SpeakingFlags) error
}

// SinkConfig holds voice sink configuration.
type SinkConfig struct {
	FFmpegPath  string
	BitrateKbps int
}

// VoiceSink plays local audio files into one guild voice channel.
type VoiceSink struct {
	newConn func(guildID snowflake.ID) voiceConn
	encode  encoder

	mu        sync.Mutex
	conn      voiceConn
	guildID   snowflake.ID
	channelID snowflake.ID
	current   *voiceStream
}

type voiceStream struct {
	path   string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewVoiceSink creates a sink that opens connections through the client's voice manager.
func NewVoiceSink(config SinkConfig, manager voice.Manager) *VoiceSink {
	return newVoiceSink(
		func(guildID snowflake.ID) voiceConn { return manager.CreateConn(guildID) },
		ffmpegEncoder(config.FFmpegPath, config.BitrateKbps),
	)
}

func newVoiceSink(newConn func(snowflake.ID) voiceConn, encode encoder) *VoiceSink {
	return &VoiceSink{newConn: newConn, encode: encode}
}

// Connect joins channelID in guildID. Joining the channel the sink is
// already in is a no-op; joining another one moves the sink.
func (s *VoiceSink) Connect(ctx context.Context, guildID, channelID snowflake.ID) error {
	s.mu.Lock()
	if s.conn != nil && s.guildID == guildID && s.channelID == channelID {
		s.mu.Unlock()
		return nil
	}
	moving := s.conn != nil
	s.mu.Unlock()

	if moving {
		if err := s.Disconnect(ctx); err != nil {
			return err
		}
	}

	conn := s.newConn(guildID)
	if err := conn.Open(ctx, channelID, false, true); err != nil {
		conn.Close(ctx)
		return errors.Wrapf(err, "open voice connection: guild=%s channel=%s", guildID, channelID)
	}

	s.mu.Lock()
	s.conn = conn
	s.guildID = guildID
	s.channelID = channelID
	s.mu.Unlock()

	zlog.Info().Msgf("discord: voice connected: guild=%s channel=%s", guildID, channelID)
	return nil
}

// Channel returns the connected voice channel.
func (s *VoiceSink) Channel() (guildID, channelID snowflake.ID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guildID, s.channelID, s.conn != nil
}

// Play starts streaming path. onComplete runs once when the stream ends,
// with nil on a natural end or after Stop.
func (s *VoiceSink) Play(path string, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return playback.ErrSinkUnavailable
	}
	if s.current != nil {
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(context.Background())
	src, err := s.encode(ctx, path)
	if err != nil {
		cancel()
		return errors.Wrap(err, "start encoder")
	}

	st := &voiceStream{path: path, cancel: cancel, done: make(chan struct{})}
	ended := make(chan error, 1)
	frames := newOpusFrames(src, func(err error) { ended <- err })

	conn := s.conn
	conn.SetOpusFrameProvider(frames)
	if err := conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		zlog.Warn().Msgf("discord: set speaking: %v", err)
	}
	s.current = st

	go s.stream(ctx, st, conn, src, ended, onComplete)
	return nil
}

func (s *VoiceSink) stream(ctx context.Context, st *voiceStream, conn voiceConn, src audioSource, ended <-chan error, onComplete func(error)) {
	var result error
	select {
	case err := <-ended:
		result = err
	case <-ctx.Done():
	}

	st.cancel()
	if err := src.Close(); err != nil {
		zlog.Warn().Msgf("discord: close encoder: path=%s error=%v", st.path, err)
	}
	conn.SetOpusFrameProvider(nil)
	_ = conn.SetSpeaking(context.Background(), voice.SpeakingFlagNone)

	s.mu.Lock()
	if s.current == st {
		s.current = nil
	}
	s.mu.Unlock()
	close(st.done)

	if result != nil {
		zlog.Warn().Msgf("discord: stream ended with error: path=%s error=%v", st.path, result)
	}
	onComplete(result)
}

// Stop ends the current stream and waits until it is torn down.
func (s *VoiceSink) Stop() {
	s.mu.Lock()
	st := s.current
	s.mu.Unlock()
	if st == nil {
		return
	}
	st.cancel()
	<-st.done
}

// IsPlaying reports whether a stream is running.
func (s *VoiceSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// IsConnected reports whether the sink holds a voice connection.
func (s *VoiceSink) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Disconnect stops playback and closes the voice connection.
func (s *VoiceSink) Disconnect(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	conn, guildID := s.conn, s.guildID
	s.conn = nil
	s.guildID, s.channelID = 0, 0
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.Close(ctx)
	zlog.Info().Msgf("discord: voice disconnected: guild=%s", guildID)
	return nil
}
