package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestShortCaller(t *testing.T) {
	file := filepath.Join("root", "internal", "app", "playback", "scheduler.go")
	assert.Equal(t, filepath.Join("playback", "scheduler.go")+":42", shortCaller(0, file, 42))
	assert.Equal(t, "main.go:7", shortCaller(0, "main.go", 7))
}

func TestBuild_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := build(&buf, zerolog.InfoLevel, false)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.NotContains(t, entry, "caller")
}

func TestInit_File(t *testing.T) {
	defer func(prev zerolog.Logger, lvl zerolog.Level) {
		zlog.Logger = prev
		zerolog.SetGlobalLevel(lvl)
	}(zlog.Logger, zerolog.GlobalLevel())

	path := filepath.Join(t.TempDir(), "logs", "jukebot.log")
	closer, err := Init(Config{Output: "file", File: path, Level: "debug"})
	require.NoError(t, err)

	zlog.Debug().Msg("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"written"`)
	assert.Contains(t, string(data), `"caller"`)
}

func TestInit_Errors(t *testing.T) {
	_, err := Init(Config{Output: "file"})
	assert.Error(t, err)

	_, err = Init(Config{Output: "syslog"})
	assert.Error(t, err)
}
