// Package connect provides the Connect RPC control service and its client.
package connect

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/jukebot/internal/app/notification"
	"github.com/osa030/jukebot/internal/app/playback"
	"github.com/osa030/jukebot/internal/app/session"
	"github.com/osa030/jukebot/internal/domain/media"
)

const adminRequesterID = "admin"

// Controller is the session surface the control service drives.
type Controller interface {
	Request(ctx context.Context, ref string, requester media.Requester) (session.RequestResult, error)
	Skip(ctx context.Context) error
	Stop(ctx context.Context) (playback.StopResult, error)
	Leave(ctx context.Context) (playback.StopResult, error)
	Status(ctx context.Context) (*session.Status, error)
	Notifications() *notification.Manager
}

// ControlService implements the control API.
type ControlService struct {
	session Controller
	message func(code string) string

	closeOnce sync.Once
	done      chan struct{}
}

// NewControlService creates a new ControlService. message maps request codes to texts.
func NewControlService(s Controller, message func(code string) string) *ControlService {
	return &ControlService{
		session: s,
		message: message,
		done:    make(chan struct{}),
	}
}

// Close ends every open WatchEvents stream.
func (s *ControlService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Handler returns the path prefix and handler serving every procedure.
func (s *ControlService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(EnqueueProcedure, connect.NewUnaryHandler(EnqueueProcedure, s.Enqueue, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, s.Skip, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, s.Stop, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, s.Leave, opts...))
	mux.Handle(WatchEventsProcedure, connect.NewServerStreamHandler(WatchEventsProcedure, s.WatchEvents, opts...))
	return "/" + ServiceName + "/", mux
}

// GetStatus returns the current session status.
func (s *ControlService) GetStatus(
	ctx context.Context,
	req *connect.Request[GetStatusRequest],
) (*connect.Response[GetStatusResponse], error) {
	status, err := s.session.Status(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(toStatus(status)), nil
}

// Enqueue adds a reference to the queue on behalf of the admin.
// Filters that only apply to users are skipped.
func (s *ControlService) Enqueue(
	ctx context.Context,
	req *connect.Request[EnqueueRequest],
) (*connect.Response[EnqueueResponse], error) {
	name := strings.TrimSpace(req.Msg.RequesterName)
	if name == "" {
		name = adminRequesterID
	}
	requester := media.Requester{
		ID:   adminRequesterID,
		Name: name,
		Type: media.RequesterTypeAdmin,
	}

	res, err := s.session.Request(ctx, req.Msg.Ref, requester)
	if err != nil {
		return nil, toConnectError(err)
	}
	if !res.Accepted {
		return connect.NewResponse(&EnqueueResponse{
			Success: false,
			Code:    res.Code,
			Message: s.message(res.Code),
		}), nil
	}
	return connect.NewResponse(&EnqueueResponse{
		Success:  true,
		Message:  "Added to queue",
		Position: res.Position,
	}), nil
}

// Skip skips the current entry.
func (s *ControlService) Skip(
	ctx context.Context,
	req *connect.Request[SkipRequest],
) (*connect.Response[SkipResponse], error) {
	err := s.session.Skip(ctx)
	if errors.Is(err, playback.ErrNothingPlaying) {
		return connect.NewResponse(&SkipResponse{
			Success: false,
			Message: err.Error(),
		}), nil
	}
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SkipResponse{
		Success: true,
		Message: "Entry skipped",
	}), nil
}

// Stop clears the queue and stops playback.
func (s *ControlService) Stop(
	ctx context.Context,
	req *connect.Request[StopRequest],
) (*connect.Response[StopResponse], error) {
	res, err := s.session.Stop(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&StopResponse{
		WasActive: res.WasActive,
		Cleared:   res.Cleared,
		Released:  res.Released,
	}), nil
}

// Leave stops playback and disconnects from voice.
func (s *ControlService) Leave(
	ctx context.Context,
	req *connect.Request[LeaveRequest],
) (*connect.Response[LeaveResponse], error) {
	res, err := s.session.Leave(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LeaveResponse{
		WasActive: res.WasActive,
		Cleared:   res.Cleared,
		Released:  res.Released,
	}), nil
}

// WatchEvents streams the current state followed by every playback event.
func (s *ControlService) WatchEvents(
	ctx context.Context,
	req *connect.Request[WatchEventsRequest],
	stream *connect.ServerStream[Notification],
) error {
	status, err := s.session.Status(ctx)
	if err != nil {
		return toConnectError(err)
	}
	adapter := &notificationStreamAdapter{stream: stream, failed: make(chan struct{})}
	if err := adapter.send(initialState(status)); err != nil {
		return err
	}

	notifications := s.session.Notifications()
	subscriptionID := notifications.Subscribe("control:"+req.Peer().Addr, adapter)
	defer notifications.Unsubscribe(subscriptionID)

	select {
	case <-ctx.Done():
	case <-s.done:
	case <-adapter.failed:
	}
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[Notification]
	once   sync.Once
	failed chan struct{}
}

func (a *notificationStreamAdapter) Send(n notification.Notice) error {
	return a.send(toNotification(n))
}

func (a *notificationStreamAdapter) send(n *Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.stream.Send(n); err != nil {
		zlog.Debug().Msgf("connect: watch stream send failed: %v", err)
		a.once.Do(func() { close(a.failed) })
		return err
	}
	return nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, playback.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
