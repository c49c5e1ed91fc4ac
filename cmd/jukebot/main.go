// Package main provides the bot entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/jukebot/internal/api/connect"
	"github.com/osa030/jukebot/internal/app/filter"
	"github.com/osa030/jukebot/internal/app/idle"
	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/app/resolve"
	"github.com/osa030/jukebot/internal/app/session"
	"github.com/osa030/jukebot/internal/infra/config"
	"github.com/osa030/jukebot/internal/infra/discord"
	"github.com/osa030/jukebot/internal/infra/logger"
	"github.com/osa030/jukebot/internal/infra/metrics"
	"github.com/osa030/jukebot/internal/infra/spotify"
	"github.com/osa030/jukebot/internal/infra/youtube"
	"github.com/osa030/jukebot/internal/infra/ytdlp"
)

const (
	shutdownTimeout = 10 * time.Second
	gaugeTimeout    = time.Second
)

var (
	app        = kingpin.New("jukebot", "Discord voice channel jukebox")
	configPath = app.Flag("config", "Path to config file").Default("config/jukebot.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	logFormat  = app.Flag("log-format", "Console log format").Default("console").Enum("console", "json")

	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	app.Command("start", "Start the bot (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		Format: *logFormat,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closer, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Bot error: %+v", err)
		closer.Close()
		os.Exit(1)
	}
}

// run executes the main bot logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resolver, err := newResolver(ctx, cfg)
	if err != nil {
		return err
	}

	fetcher, err := ytdlp.New(ytdlp.Config{
		DownloadDir:   cfg.Fetcher.DownloadDir,
		CookiesFile:   cfg.Fetcher.CookiesFile,
		RatePerMinute: cfg.Fetcher.RatePerMinute,
	}, resolver)
	if err != nil {
		return errors.Wrap(err, "failed to create fetcher")
	}

	var guildID snowflake.ID
	if cfg.Discord.GuildID != "" {
		if guildID, err = snowflake.Parse(cfg.Discord.GuildID); err != nil {
			return errors.Wrap(err, "invalid discord.guild_id")
		}
	}

	bot, err := discord.NewBot(discord.BotConfig{
		Token:   cfg.Discord.Token,
		Prefix:  cfg.Discord.Prefix,
		GuildID: guildID,
	})
	if err != nil {
		return err
	}

	sink := discord.NewVoiceSink(discord.SinkConfig{
		FFmpegPath:  cfg.Playback.FFmpegPath,
		BitrateKbps: cfg.Playback.BitrateKbps,
	}, bot.VoiceManager())

	sessionMgr, err := session.NewManager(session.Config{
		Playback: playback.Config{
			FetchTimeout: cfg.FetchTimeout(),
			MaxQueue:     cfg.Playback.MaxQueue,
			HistorySize:  cfg.Playback.HistorySize,
		},
		Idle: idle.Config{
			Interval:  cfg.IdleInterval(),
			Threshold: cfg.IdleThreshold(),
		},
		Filters: cfg.EnabledFilters(),
	}, fetcher, sink)
	if err != nil {
		return errors.Wrap(err, "failed to create session manager")
	}
	defer sessionMgr.Close()

	dispatcher := discord.NewDispatcher(discord.DispatcherConfig{
		Prefix:  cfg.Discord.Prefix,
		Message: cfg.GetMessage,
	}, sessionMgr)
	bot.Handle(dispatcher, sessionMgr.Requesters().SetLastChannel, func(ctx context.Context) {
		if !sessionMgr.Connected() {
			return
		}
		if _, err := sessionMgr.Leave(ctx); err != nil {
			zlog.Warn().Msgf("Failed to leave after external disconnect: %v", err)
		}
	})

	notifications := sessionMgr.Notifications()
	relay := discord.NewRelay(
		discord.PosterFunc(bot.Post), sessionMgr.Requesters().LastChannel, cfg.Discord.Prefix)
	defer relay.Close()
	notifications.Subscribe("discord", relay)

	m := metrics.New()
	notifications.Subscribe("metrics", m)
	m.RegisterGauges(gauges(sessionMgr))

	if err := sessionMgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start session")
	}

	if err := bot.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		bot.Close(closeCtx)
	}()

	var (
		server      *http.Server
		controlSvc  *apiconnect.ControlService
		serverErrCh = make(chan error, 1)
	)
	if cfg.Server.Addr != "" {
		controlSvc = apiconnect.NewControlService(sessionMgr, cfg.GetMessage)
		path, handler := controlSvc.Handler(connect.WithInterceptors(
			apiconnect.NewMetricsInterceptor(m),
			apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token),
		))

		mux := http.NewServeMux()
		mux.Handle(path, handler)
		mux.Handle("/metrics", m.Handler())

		// h2c serves HTTP/2 cleartext for streaming clients
		server = &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           h2c.NewHandler(mux, &http2.Server{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			zlog.Info().Msgf("Starting control server: addr=%s", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	}

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	var runErr error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		// Ends open WatchEvents streams so Shutdown does not wait for them
		controlSvc.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Msgf("Failed to shutdown server: %v", err)
		}
	}
	sessionMgr.Close()
	// Flush queued posts while the gateway is still open
	relay.Close()

	zlog.Info().Msg("Bot stopped")
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return runErr
}

// newResolver builds the reference resolver chain.
// Spotify track links resolve first; free-text search is the fallback.
func newResolver(ctx context.Context, cfg *config.Config) (resolve.Chain, error) {
	var chain resolve.Chain
	if cfg.SpotifyEnabled() {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Spotify client")
		}
		chain = append(chain, client)
		zlog.Info().Msg("Spotify track links enabled")
	}
	if cfg.Search.Enabled {
		chain = append(chain, youtube.NewSearcher())
		zlog.Info().Msg("Free-text search enabled")
	}
	return chain, nil
}

func gauges(s *session.Manager) metrics.Gauges {
	status := func() *session.Status {
		ctx, cancel := context.WithTimeout(context.Background(), gaugeTimeout)
		defer cancel()
		st, err := s.Status(ctx)
		if err != nil {
			return nil
		}
		return st
	}
	return metrics.Gauges{
		QueueLength: func() float64 {
			if st := status(); st != nil {
				return float64(len(st.Queue))
			}
			return 0
		},
		AssetsInUse: func() float64 {
			if st := status(); st != nil {
				return float64(st.Assets.InUse)
			}
			return 0
		},
		VoiceConnect: func() float64 {
			if s.Connected() {
				return 1
			}
			return 0
		},
		EventsDropped: func() float64 {
			return float64(s.DroppedEvents())
		},
	}
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for name, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", name, f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
