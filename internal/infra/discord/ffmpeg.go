package discord

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// audioSource is a running encoder producing an Ogg/Opus stream.
type audioSource interface {
	io.Reader
	// Close stops the encoder and waits for it to exit.
	Close() error
}

// encoder starts an audioSource for a local file. The source stops when ctx is cancelled.
type encoder func(ctx context.Context, path string) (audioSource, error)

// ffmpegArgs returns the arguments that transcode path into 48kHz stereo Ogg/Opus on stdout.
func ffmpegArgs(path string, bitrateKbps int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-map", "0:a",
		"-acodec", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		"-vbr", "on",
		"-compression_level", "10",
		"-f", "opus",
		"pipe:1",
	}
}

// ffmpegEncoder returns an encoder running the ffmpeg binary at bin.
func ffmpegEncoder(bin string, bitrateKbps int) encoder {
	return func(ctx context.Context, path string) (audioSource, error) {
		cmd := exec.CommandContext(ctx, bin, ffmpegArgs(path, bitrateKbps)...)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, errors.Wrap(err, "ffmpeg stdout pipe")
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, errors.Wrap(err, "ffmpeg stderr pipe")
		}
		if err := cmd.Start(); err != nil {
			return nil, errors.Wrapf(err, "start %s", bin)
		}

		go func() {
			scanner := bufio.NewScanner(stderr)
			for scanner.Scan() {
				zlog.Debug().Msgf("discord: ffmpeg: %s", scanner.Text())
			}
		}()

		return &ffmpegSource{cmd: cmd, stdout: stdout}, nil
	}
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (f *ffmpegSource) Read(p []byte) (int, error) {
	return f.stdout.Read(p)
}

func (f *ffmpegSource) Close() error {
	if f.cmd.Process != nil {
		_ = f.cmd.Process.Kill()
	}
	err := f.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Killed on purpose or finished with an error already logged from stderr.
		return nil
	}
	return errors.Wrap(err, "wait for ffmpeg")
}
