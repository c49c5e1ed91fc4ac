package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
)

// Client calls the control service.
type Client struct {
	getStatus   *connect.Client[GetStatusRequest, GetStatusResponse]
	enqueue     *connect.Client[EnqueueRequest, EnqueueResponse]
	skip        *connect.Client[SkipRequest, SkipResponse]
	stop        *connect.Client[StopRequest, StopResponse]
	leave       *connect.Client[LeaveRequest, LeaveResponse]
	watchEvents *connect.Client[WatchEventsRequest, Notification]
}

// NewClient creates a control client for the server at baseURL authenticating with token.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(&tokenInterceptor{token: token}),
	}, opts...)

	return &Client{
		getStatus:   connect.NewClient[GetStatusRequest, GetStatusResponse](httpClient, baseURL+GetStatusProcedure, opts...),
		enqueue:     connect.NewClient[EnqueueRequest, EnqueueResponse](httpClient, baseURL+EnqueueProcedure, opts...),
		skip:        connect.NewClient[SkipRequest, SkipResponse](httpClient, baseURL+SkipProcedure, opts...),
		stop:        connect.NewClient[StopRequest, StopResponse](httpClient, baseURL+StopProcedure, opts...),
		leave:       connect.NewClient[LeaveRequest, LeaveResponse](httpClient, baseURL+LeaveProcedure, opts...),
		watchEvents: connect.NewClient[WatchEventsRequest, Notification](httpClient, baseURL+WatchEventsProcedure, opts...),
	}
}

func (c *Client) GetStatus(ctx context.Context) (*GetStatusResponse, error) {
	res, err := c.getStatus.CallUnary(ctx, connect.NewRequest(&GetStatusRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Enqueue(ctx context.Context, ref, requesterName string) (*EnqueueResponse, error) {
	res, err := c.enqueue.CallUnary(ctx, connect.NewRequest(&EnqueueRequest{Ref: ref, RequesterName: requesterName}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Skip(ctx context.Context) (*SkipResponse, error) {
	res, err := c.skip.CallUnary(ctx, connect.NewRequest(&SkipRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Stop(ctx context.Context) (*StopResponse, error) {
	res, err := c.stop.CallUnary(ctx, connect.NewRequest(&StopRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *Client) Leave(ctx context.Context) (*LeaveResponse, error) {
	res, err := c.leave.CallUnary(ctx, connect.NewRequest(&LeaveRequest{}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// WatchEvents calls fn for every notification until the stream ends, ctx is
// done or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, fn func(*Notification) error) error {
	stream, err := c.watchEvents.CallServerStream(ctx, connect.NewRequest(&WatchEventsRequest{}))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) || connect.CodeOf(err) == connect.CodeCanceled {
			return nil
		}
		return err
	}
	return nil
}
