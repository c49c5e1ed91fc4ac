// Package ytdlp materializes media references as local audio files using yt-dlp.
package ytdlp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/jukebot/internal/domain/media"
)

const partialDir = ".partial"

// Resolver maps a reference to the target handed to yt-dlp.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Config represents fetcher configuration.
type Config struct {
	DownloadDir   string
	CookiesFile   string // Passed to yt-dlp when the file exists
	RatePerMinute int    // Downloads started per minute (0 = unlimited)
}

type downloadRequest struct {
	Target  string
	Output  string // yt-dlp output template
	Cookies string
}

type downloader interface {
	Download(ctx context.Context, req downloadRequest) error
}

// Fetcher downloads audio for references into DownloadDir.
// Files are written to a staging directory and renamed into place,
// so a final path only ever holds a complete file.
type Fetcher struct {
	config   Config
	resolver Resolver
	limiter  *rate.Limiter
	dl       downloader
}

// New creates a fetcher and its directories. resolver may be nil.
func New(config Config, resolver Resolver) (*Fetcher, error) {
	if config.DownloadDir == "" {
		return nil, errors.New("download directory is required")
	}
	if err := os.MkdirAll(filepath.Join(config.DownloadDir, partialDir), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}

	limit := rate.Inf
	burst := 1
	if config.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(config.RatePerMinute))
		burst = config.RatePerMinute
	}

	return &Fetcher{
		config:   config,
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, burst),
		dl:       cliDownloader{},
	}, nil
}

// Fetch returns the local asset for ref, downloading it if needed.
// Every failure is a *media.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (media.Asset, error) {
	a := media.NewAsset(f.config.DownloadDir, ref)

	if info, err := os.Stat(a.Path); err == nil && info.Size() > 0 {
		zlog.Debug().Msgf("ytdlp: reusing asset: ref=%s path=%s", ref, a.Path)
		return a, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return media.Asset{}, fetchError(ref, errors.Wrap(err, "rate limit wait"))
	}

	target := ref
	if f.resolver != nil {
		t, err := f.resolver.Resolve(ctx, ref)
		if err != nil {
			return media.Asset{}, fetchError(ref, err)
		}
		target = t
	}

	staging, err := os.MkdirTemp(filepath.Join(f.config.DownloadDir, partialDir), a.Fingerprint+"-*")
	if err != nil {
		return media.Asset{}, fetchError(ref, errors.Wrap(err, "failed to create staging directory"))
	}
	defer os.RemoveAll(staging)

	req := downloadRequest{
		Target: target,
		Output: filepath.Join(staging, a.Fingerprint+".%(ext)s"),
	}
	if f.config.CookiesFile != "" {
		if _, err := os.Stat(f.config.CookiesFile); err == nil {
			req.Cookies = f.config.CookiesFile
		}
	}

	start := time.Now()
	if err := f.dl.Download(ctx, req); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.WithSecondaryError(ctxErr, err)
		}
		return media.Asset{}, fetchError(ref, err)
	}

	produced := filepath.Join(staging, a.Fingerprint+media.AssetExt)
	info, err := os.Stat(produced)
	if err != nil || info.Size() == 0 {
		return media.Asset{}, fetchError(ref, errors.New("yt-dlp produced no audio"))
	}
	if err := os.Rename(produced, a.Path); err != nil {
		return media.Asset{}, fetchError(ref, errors.Wrap(err, "failed to move asset into place"))
	}

	zlog.Info().Msgf("ytdlp: downloaded: ref=%s path=%s size=%d elapsed=%v", ref, a.Path, info.Size(), time.Since(start))
	return a, nil
}

// Cleanup removes staging leftovers and orphaned assets from a previous run.
func (f *Fetcher) Cleanup() error {
	partial := filepath.Join(f.config.DownloadDir, partialDir)
	if err := os.RemoveAll(partial); err != nil {
		return errors.Wrap(err, "failed to remove staging directory")
	}
	if err := os.MkdirAll(partial, 0o755); err != nil {
		return errors.Wrap(err, "failed to create staging directory")
	}

	matches, err := filepath.Glob(filepath.Join(f.config.DownloadDir, "*"+media.AssetExt))
	if err != nil {
		return errors.Wrap(err, "failed to list assets")
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", m)
		}
	}
	if len(matches) > 0 {
		zlog.Info().Msgf("ytdlp: removed orphaned assets: count=%d", len(matches))
	}
	return nil
}

func fetchError(ref string, err error) error {
	return &media.FetchError{Ref: ref, Cause: err}
}

// cliDownloader runs the yt-dlp executable.
type cliDownloader struct{}

func (cliDownloader) Download(ctx context.Context, req downloadRequest) error {
	cmd := ytdlp.New().
		Format("bestaudio/best").
		ExtractAudio().
		AudioFormat(strings.TrimPrefix(media.AssetExt, ".")).
		Output(req.Output).
		NoPlaylist().
		ForceOverwrites().
		IgnoreConfig().
		Quiet().
		NoWarnings()

	if req.Cookies != "" {
		cmd.Cookies(req.Cookies)
	}

	res, err := cmd.Run(ctx, req.Target)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return errors.Wrapf(err, "yt-dlp: %s", lastLine(res.Stderr))
		}
		return errors.Wrap(err, "yt-dlp")
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
