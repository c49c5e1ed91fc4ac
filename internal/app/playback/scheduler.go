package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/asset"
	"github.com/osa030/jukebot/internal/domain/media"
)

// Errors
var (
	ErrQueueFull       = errors.New("queue is full")
	ErrNothingPlaying  = errors.New("nothing is playing")
	ErrSinkUnavailable = errors.New("sink is not connected")
	ErrClosed          = errors.New("scheduler is closed")
)

const (
	eventBufferSize    = 256
	defaultHistorySize = 20
)

// Fetcher turns a media reference into a local asset.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (media.Asset, error)
}

// Sink plays assets.
// onComplete is called exactly once for every Play that returned nil,
// with a nil error on natural end or after Stop.
type Sink interface {
	Play(path string, onComplete func(error)) error
	Stop()
	IsPlaying() bool
	IsConnected() bool
	Disconnect(ctx context.Context) error
}

// Config holds scheduler configuration.
type Config struct {
	FetchTimeout time.Duration // Per-fetch timeout (0 = none)
	MaxQueue     int           // Maximum waiting entries (0 = unlimited)
	HistorySize  int           // Played entries kept for snapshots
}

// StopResult describes what Stop tore down.
type StopResult struct {
	WasActive bool // An entry was loading or playing
	Cleared   int  // Waiting entries removed
	Released  int  // Leases released
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	State     State
	Current   *media.QueueEntry
	Queue     []media.QueueEntry
	History   []media.QueueEntry
	Connected bool
}

// Scheduler owns the queue and advances through it one entry at a time.
// All state lives in a single goroutine; public methods and completion
// callbacks are delivered to it as messages.
type Scheduler struct {
	config  Config
	fetcher Fetcher
	sink    Sink
	store   *asset.Store

	inbox     chan func()
	eventCh   chan Event
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64

	// Owned by the loop goroutine
	queue       []media.QueueEntry
	history     []media.QueueEntry
	state       State
	current     *media.QueueEntry
	lease       asset.Lease
	seq         uint64
	gen         uint64 // Fetch generation
	playID      uint64
	fetchCancel context.CancelFunc
	fetching    bool // A fetch goroutine is out, possibly a cancelled one
	pass        int  // Failures left before the streak is reported (0 = no streak)
	failures    int
}

// NewScheduler creates a scheduler and starts its loop.
func NewScheduler(config Config, fetcher Fetcher, sink Sink, store *asset.Store) *Scheduler {
	if config.HistorySize <= 0 {
		config.HistorySize = defaultHistorySize
	}
	s := &Scheduler{
		config:  config,
		fetcher: fetcher,
		sink:    sink,
		store:   store,
		inbox:   make(chan func()),
		eventCh: make(chan Event, eventBufferSize),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateIdle,
	}
	go s.loop()
	return s
}

// Events returns the event channel. It is closed by Close.
// The scheduler never blocks on it: when the buffer is full the event is
// dropped and counted in DroppedEvents.
func (s *Scheduler) Events() <-chan Event {
	return s.eventCh
}

// DroppedEvents returns how many events were dropped because Events was full.
func (s *Scheduler) DroppedEvents() uint64 {
	return s.dropped.Load()
}

// Close stops the loop, stops the sink and releases every asset.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	<-s.done
}

// Enqueue appends ref to the queue and returns its 1-based position.
// It never waits for a fetch or playback.
func (s *Scheduler) Enqueue(ctx context.Context, ref string, requester media.Requester) (int, error) {
	var (
		pos int
		err error
	)
	if e := s.do(ctx, func() { pos, err = s.enqueue(ref, requester) }); e != nil {
		return 0, e
	}
	return pos, err
}

// Skip stops the current asset; the queue advances once the sink reports completion.
func (s *Scheduler) Skip(ctx context.Context) error {
	var err error
	if e := s.do(ctx, func() { err = s.skip() }); e != nil {
		return e
	}
	return err
}

// Stop clears the queue, cancels any fetch, stops the sink and releases every asset.
// On return the scheduler is idle with an empty queue.
func (s *Scheduler) Stop(ctx context.Context) (StopResult, error) {
	var res StopResult
	if err := s.do(ctx, func() { res = s.stop() }); err != nil {
		return StopResult{}, err
	}
	return res, nil
}

// Leave stops everything and disconnects the sink.
func (s *Scheduler) Leave(ctx context.Context) (StopResult, error) {
	var (
		res StopResult
		err error
	)
	if e := s.do(ctx, func() {
		res = s.stop()
		if s.sink.IsConnected() {
			err = s.sink.Disconnect(ctx)
		}
	}); e != nil {
		return StopResult{}, e
	}
	return res, errors.Wrap(err, "disconnect sink")
}

// Resume advances if idle with a waiting queue, e.g. after the sink reconnected.
func (s *Scheduler) Resume(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.state == StateIdle && len(s.queue) > 0 {
			s.advance()
		}
	})
}

// Snapshot returns the current state, entry, queue and history.
func (s *Scheduler) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func() {
		snap = Snapshot{
			State:     s.state,
			Queue:     append([]media.QueueEntry(nil), s.queue...),
			History:   append([]media.QueueEntry(nil), s.history...),
			Connected: s.sink.IsConnected(),
		}
		if s.current != nil {
			cur := *s.current
			snap.Current = &cur
		}
	})
	return snap, err
}

// IdleStatus reports whether the sink is connected and whether the scheduler
// is idle with an empty queue.
func (s *Scheduler) IdleStatus(ctx context.Context) (connected, idle bool, err error) {
	err = s.do(ctx, func() {
		connected = s.sink.IsConnected()
		idle = s.state == StateIdle && len(s.queue) == 0
	})
	return connected, idle, err
}

// ReleaseIdle disconnects the sink if it is still connected and idle.
// It reports whether the sink was released.
func (s *Scheduler) ReleaseIdle(ctx context.Context) (bool, error) {
	var (
		released bool
		err      error
	)
	if e := s.do(ctx, func() {
		if s.state != StateIdle || len(s.queue) > 0 || !s.sink.IsConnected() {
			return
		}
		if err = s.sink.Disconnect(ctx); err != nil {
			return
		}
		released = true
		s.emit(Event{Type: EventDisconnectedIdle})
	}); e != nil {
		return false, e
	}
	return released, errors.Wrap(err, "disconnect idle sink")
}

// do runs fn on the loop goroutine and waits for it to finish.
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case s.inbox <- func() { fn(); close(done) }:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post delivers fn to the loop without waiting for it.
func (s *Scheduler) post(fn func()) {
	select {
	case s.inbox <- fn:
	case <-s.closed:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.inbox:
			fn()
		case <-s.closed:
			s.shutdown()
			return
		}
	}
}

func (s *Scheduler) shutdown() {
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	s.gen++
	s.playID++
	if s.state.Active() {
		s.sink.Stop()
	}
	n := s.store.ReleaseAll()
	s.queue = nil
	s.current = nil
	s.state = StateIdle
	zlog.Debug().Msgf("playback: scheduler closed: released=%d", n)
	close(s.eventCh)
}

func (s *Scheduler) enqueue(ref string, requester media.Requester) (int, error) {
	if s.config.MaxQueue > 0 && len(s.queue) >= s.config.MaxQueue {
		return 0, ErrQueueFull
	}

	s.seq++
	entry := media.QueueEntry{
		Seq:        s.seq,
		Ref:        ref,
		Requester:  requester,
		EnqueuedAt: time.Now(),
	}
	s.queue = append(s.queue, entry)
	pos := len(s.queue)

	zlog.Debug().Msgf("playback: enqueued: seq=%d ref=%s position=%d", entry.Seq, ref, pos)
	s.emit(Event{Type: EventQueued, Entry: &entry, Position: pos})

	if s.state == StateIdle {
		s.advance()
	}
	return pos, nil
}

// advance pops the next entry and starts fetching it. Only runs when idle.
func (s *Scheduler) advance() {
	if s.state != StateIdle || len(s.queue) == 0 {
		return
	}
	if s.fetching {
		// A cancelled fetch is still unwinding; its result advances.
		return
	}
	if !s.sink.IsConnected() {
		s.emit(Event{Type: EventSinkUnavailable})
		return
	}

	entry := s.queue[0]
	s.queue = s.queue[1:]
	s.current = &entry
	s.state = StateLoading
	s.lease = s.store.Reserve(entry.Ref)

	s.gen++
	gen, lease := s.gen, s.lease

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.config.FetchTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), s.config.FetchTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	s.fetchCancel = cancel
	s.fetching = true

	zlog.Debug().Msgf("playback: fetching: seq=%d ref=%s", entry.Seq, entry.Ref)
	go func() {
		a, err := s.fetcher.Fetch(ctx, entry.Ref)
		s.post(func() { s.fetchDone(gen, entry, lease, a, err) })
	}()
}

func (s *Scheduler) fetchDone(gen uint64, entry media.QueueEntry, lease asset.Lease, a media.Asset, err error) {
	s.fetching = false
	if gen != s.gen || s.state != StateLoading {
		// Superseded by Stop; the lease is already released.
		if err == nil {
			_ = s.store.Acquire(lease, a)
		}
		zlog.Debug().Msgf("playback: dropped stale fetch result: ref=%s", entry.Ref)
		s.advance()
		return
	}
	s.fetchCancel()
	s.fetchCancel = nil

	if err != nil {
		var fe *media.FetchError
		if !errors.As(err, &fe) {
			err = &media.FetchError{Ref: entry.Ref, Cause: err}
		}
		s.store.Release(lease)
		s.fail(entry, err)
		s.settle()
		return
	}

	if err := s.store.Acquire(lease, a); err != nil {
		s.fail(entry, &media.FetchError{Ref: entry.Ref, Cause: err})
		s.settle()
		return
	}

	s.playID++
	id := s.playID
	s.state = StatePlaying
	err = s.sink.Play(a.Path, func(perr error) {
		go s.post(func() { s.playDone(id, perr) })
	})
	if err != nil {
		s.store.Release(lease)
		if errors.Is(err, ErrSinkUnavailable) {
			// Put the entry back; the queue is otherwise untouched.
			s.queue = append([]media.QueueEntry{entry}, s.queue...)
			s.reset()
			zlog.Warn().Msgf("playback: sink unavailable, requeued: ref=%s", entry.Ref)
			s.emit(Event{Type: EventSinkUnavailable, Entry: &entry})
			return
		}
		s.fail(entry, &media.PlaybackError{Ref: entry.Ref, Cause: err})
		s.settle()
		return
	}

	s.pass = 0
	s.failures = 0
	zlog.Info().Msgf("playback: now playing: seq=%d ref=%s", entry.Seq, entry.Ref)
	s.emit(Event{Type: EventNowPlaying, Entry: &entry})
}

func (s *Scheduler) playDone(id uint64, err error) {
	if id != s.playID || (s.state != StatePlaying && s.state != StateStopping) {
		return
	}

	entry := *s.current
	s.store.Release(s.lease)
	s.remember(entry)

	switch {
	case s.state == StateStopping:
		// EventSkipped was emitted by Skip
	case err != nil:
		s.fail(entry, &media.PlaybackError{Ref: entry.Ref, Cause: err})
	default:
		zlog.Debug().Msgf("playback: finished: seq=%d ref=%s", entry.Seq, entry.Ref)
		s.emit(Event{Type: EventFinished, Entry: &entry})
	}
	s.settle()
}

func (s *Scheduler) skip() error {
	if s.state != StatePlaying {
		return ErrNothingPlaying
	}
	s.state = StateStopping
	s.emit(Event{Type: EventSkipped, Entry: s.current})
	s.sink.Stop()
	return nil
}

func (s *Scheduler) stop() StopResult {
	res := StopResult{
		WasActive: s.state.Active(),
		Cleared:   len(s.queue),
	}

	s.queue = nil
	if s.fetchCancel != nil {
		s.fetchCancel()
		s.fetchCancel = nil
	}
	// Invalidate in-flight fetch results and completion callbacks.
	s.gen++
	s.playID++

	s.sink.Stop()
	res.Released = s.store.ReleaseAll()
	s.reset()
	s.pass = 0
	s.failures = 0

	zlog.Info().Msgf("playback: stopped: was_active=%v cleared=%d released=%d", res.WasActive, res.Cleared, res.Released)
	s.emit(Event{Type: EventStopped, Count: res.Cleared})
	return res
}

// fail reports a failed entry and tracks the failure streak. The streak
// covers the entries waiting when it began; once all of them failed it is
// reported and a new streak may begin.
func (s *Scheduler) fail(entry media.QueueEntry, err error) {
	zlog.Warn().Msgf("playback: entry failed: seq=%d ref=%s error=%v", entry.Seq, entry.Ref, err)
	s.emit(Event{Type: EventFailed, Entry: &entry, Err: err})

	if s.pass == 0 {
		s.pass = len(s.queue) + 1
	}
	s.pass--
	s.failures++
	if s.pass == 0 {
		s.emit(Event{Type: EventAllFailed, Count: s.failures})
		s.failures = 0
	}
}

// settle returns to idle and moves on to the next entry.
func (s *Scheduler) settle() {
	s.reset()
	if len(s.queue) == 0 {
		s.pass = 0
		s.failures = 0
		s.emit(Event{Type: EventQueueEmpty})
		return
	}
	s.advance()
}

func (s *Scheduler) reset() {
	s.state = StateIdle
	s.current = nil
	s.lease = 0
}

func (s *Scheduler) remember(entry media.QueueEntry) {
	s.history = append(s.history, entry)
	if over := len(s.history) - s.config.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Scheduler) emit(ev Event) {
	ev.State = s.state
	select {
	case s.eventCh <- ev:
	default:
		n := s.dropped.Add(1)
		zlog.Warn().Msgf("playback: event channel full, dropping event: type=%s dropped=%d", ev.Type, n)
	}
}
