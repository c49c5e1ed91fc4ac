// Package session wires the playback components together and exposes the
// operations the command surfaces drive.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disgoorg/snowflake/v2"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/asset"
	"github.com/osa030/jukebot/internal/app/filter"
	"github.com/osa030/jukebot/internal/app/idle"
	"github.com/osa030/jukebot/internal/app/notification"
	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/app/session/registry"
	"github.com/osa030/jukebot/internal/domain/media"
)

// Rejection codes produced by the manager itself. Filters add their own.
const (
	CodeInvalidReference = "invalid_reference"
	CodeQueueFull        = "queue_full"
)

var ErrNotStarted = errors.New("session is not started")

// Fetcher is the asset fetcher the session drives.
type Fetcher interface {
	playback.Fetcher
	// Cleanup removes leftovers of a previous run.
	Cleanup() error
}

// Sink is the playback sink plus the ability to join a voice channel.
type Sink interface {
	playback.Sink
	Connect(ctx context.Context, guildID, channelID snowflake.ID) error
}

// Config holds session configuration.
type Config struct {
	Playback playback.Config
	Idle     idle.Config
	Filters  map[string]map[string]any // Enabled filters and their settings
}

// RequestResult is the outcome of a play request.
type RequestResult struct {
	Accepted bool
	Code     string // Rejection code when not accepted
	Position int    // 1-based queue position when accepted
}

// Status represents the current session status.
type Status struct {
	playback.Snapshot
	Assets      asset.Stats
	Requesters  int
	Subscribers int
	IdleFor     time.Duration
}

// Manager manages the playback session.
type Manager struct {
	fetcher Fetcher
	sink    Sink

	store        *asset.Store
	scheduler    *playback.Scheduler
	filterChain  *filter.Chain
	notification *notification.Manager
	requesters   *registry.RequesterRegistry
	idle         *idle.Monitor

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewManager creates a session manager. The scheduler starts immediately;
// events flow to subscribers once Start is called.
func NewManager(config Config, fetcher Fetcher, sink Sink) (*Manager, error) {
	chain, err := filter.Build(config.Filters)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}

	store := asset.NewStore()
	scheduler := playback.NewScheduler(config.Playback, fetcher, sink, store)

	return &Manager{
		fetcher:      fetcher,
		sink:         sink,
		store:        store,
		scheduler:    scheduler,
		filterChain:  chain,
		notification: notification.NewManager(),
		requesters:   registry.NewRequesterRegistry(),
		idle:         idle.NewMonitor(config.Idle, scheduler),
	}, nil
}

// Start removes leftovers of a previous run and starts the event pump and the idle monitor.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	if err := m.fetcher.Cleanup(); err != nil {
		zlog.Warn().Msgf("session: cleanup of previous downloads failed: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.notification.Pump(ctx, m.scheduler.Events())
	}()
	go func() {
		defer m.wg.Done()
		m.idle.Run(ctx)
	}()

	zlog.Info().Msgf("session: started: filters=%d", len(m.filterChain.Filters()))
	return nil
}

// Close stops the scheduler, releases every asset and disconnects the sink.
// Calls after the first are no-ops.
func (m *Manager) Close() {
	m.closeOnce.Do(m.close)
}

func (m *Manager) close() {
	m.scheduler.Close()

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()

	if m.sink.IsConnected() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.sink.Disconnect(ctx); err != nil {
			zlog.Warn().Msgf("session: disconnect on close: %v", err)
		}
	}
	m.notification.Close()
	zlog.Info().Msg("session: closed")
}

// Request validates ref and appends it to the queue.
// A rejected request is not an error; err is reserved for scheduler failures.
func (m *Manager) Request(ctx context.Context, ref string, requester media.Requester) (RequestResult, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		m.requesters.Record(requester, false)
		return RequestResult{Code: CodeInvalidReference}, nil
	}

	snap, err := m.scheduler.Snapshot(ctx)
	if err != nil {
		return RequestResult{}, errors.Wrap(err, "snapshot queue")
	}

	req := filter.Request{
		Ref:       ref,
		Requester: requester,
		Pending:   pendingFor(snap, requester.ID),
	}
	result := m.filterChain.Execute(ctx, req)
	zlog.Info().Msgf("session: request: requester=%s ref=%s result=%t code=%s", requester.Name, ref, result.Accepted, result.Code)
	if !result.Accepted {
		m.requesters.Record(requester, false)
		return RequestResult{Code: result.Code}, nil
	}

	pos, err := m.scheduler.Enqueue(ctx, ref, requester)
	if errors.Is(err, playback.ErrQueueFull) {
		m.requesters.Record(requester, false)
		return RequestResult{Code: CodeQueueFull}, nil
	}
	if err != nil {
		return RequestResult{}, errors.Wrap(err, "enqueue")
	}

	m.requesters.Record(requester, true)
	return RequestResult{Accepted: true, Position: pos}, nil
}

// pendingFor counts the waiting and current entries of requesterID.
func pendingFor(snap playback.Snapshot, requesterID string) int {
	n := 0
	for _, e := range snap.Queue {
		if e.Requester.ID == requesterID {
			n++
		}
	}
	if snap.Current != nil && snap.Current.Requester.ID == requesterID {
		n++
	}
	return n
}

// Join connects the sink to a voice channel and resumes a waiting queue.
func (m *Manager) Join(ctx context.Context, guildID, channelID snowflake.ID) error {
	if err := m.sink.Connect(ctx, guildID, channelID); err != nil {
		return errors.Wrap(err, "failed to join voice channel")
	}
	return m.scheduler.Resume(ctx)
}

// Connected reports whether the sink holds a voice connection.
func (m *Manager) Connected() bool {
	return m.sink.IsConnected()
}

// Skip skips the current entry.
func (m *Manager) Skip(ctx context.Context) error {
	return m.scheduler.Skip(ctx)
}

// Stop clears the queue and stops playback.
func (m *Manager) Stop(ctx context.Context) (playback.StopResult, error) {
	return m.scheduler.Stop(ctx)
}

// Leave stops playback and disconnects the sink.
func (m *Manager) Leave(ctx context.Context) (playback.StopResult, error) {
	return m.scheduler.Leave(ctx)
}

// Status returns the current session status.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	snap, err := m.scheduler.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Snapshot:    snap,
		Assets:      m.store.Stats(),
		Requesters:  m.requesters.Count(),
		Subscribers: m.notification.SubscriberCount(),
		IdleFor:     m.idle.Elapsed(),
	}, nil
}

// DroppedEvents returns how many scheduler events were dropped before
// reaching the notification fan-out.
func (m *Manager) DroppedEvents() uint64 {
	return m.scheduler.DroppedEvents()
}

// Notifications returns the notification manager.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Requesters returns the requester registry.
func (m *Manager) Requesters() *registry.RequesterRegistry {
	return m.requesters
}

// Filters returns the active filter chain.
func (m *Manager) Filters() []filter.Filter {
	return m.filterChain.Filters()
}
