package connect

import (
	"time"

	"github.com/osa030/jukebot/internal/app/notification"
	"github.com/osa030/jukebot/internal/app/session"
	"github.com/osa030/jukebot/internal/domain/media"
)

// ServiceName is the fully qualified control service name.
const ServiceName = "jukebot.v1.ControlService"

// Procedures of the control service.
const (
	GetStatusProcedure   = "/" + ServiceName + "/GetStatus"
	EnqueueProcedure     = "/" + ServiceName + "/Enqueue"
	SkipProcedure        = "/" + ServiceName + "/Skip"
	StopProcedure        = "/" + ServiceName + "/Stop"
	LeaveProcedure       = "/" + ServiceName + "/Leave"
	WatchEventsProcedure = "/" + ServiceName + "/WatchEvents"
)

// NotificationTypeInitialState marks the first message of a WatchEvents stream.
const NotificationTypeInitialState = "initial_state"

// Entry is a queue entry on the wire.
type Entry struct {
	Seq           uint64    `json:"seq"`
	Ref           string    `json:"ref"`
	RequesterID   string    `json:"requester_id"`
	RequesterName string    `json:"requester_name"`
	RequesterType string    `json:"requester_type"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	State       string  `json:"state"`
	Connected   bool    `json:"connected"`
	Current     *Entry  `json:"current,omitempty"`
	Queue       []Entry `json:"queue"`
	History     []Entry `json:"history"`
	AssetsInUse int     `json:"assets_in_use"`
	Requesters  int     `json:"requesters"`
	Subscribers int     `json:"subscribers"`
	IdleForSec  float64 `json:"idle_for_sec"`
}

type EnqueueRequest struct {
	Ref           string `json:"ref"`
	RequesterName string `json:"requester_name,omitempty"`
}

type EnqueueResponse struct {
	Success  bool   `json:"success"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Position int    `json:"position,omitempty"`
}

type SkipRequest struct{}

type SkipResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StopRequest struct{}

type StopResponse struct {
	WasActive bool `json:"was_active"`
	Cleared   int  `json:"cleared"`
	Released  int  `json:"released"`
}

type LeaveRequest struct{}

type LeaveResponse struct {
	WasActive bool `json:"was_active"`
	Cleared   int  `json:"cleared"`
	Released  int  `json:"released"`
}

type WatchEventsRequest struct{}

// Notification is a playback event on the wire.
type Notification struct {
	SequenceNo uint64             `json:"sequence_no"`
	At         time.Time          `json:"at"`
	Type       string             `json:"type"`
	State      string             `json:"state"`
	Entry      *Entry             `json:"entry,omitempty"`
	Position   int                `json:"position,omitempty"`
	Count      int                `json:"count,omitempty"`
	Error      string             `json:"error,omitempty"`
	Status     *GetStatusResponse `json:"status,omitempty"` // Initial state only
}

func toEntry(e *media.QueueEntry) *Entry {
	if e == nil {
		return nil
	}
	return &Entry{
		Seq:           e.Seq,
		Ref:           e.Ref,
		RequesterID:   e.Requester.ID,
		RequesterName: e.Requester.Name,
		RequesterType: string(e.Requester.Type),
		EnqueuedAt:    e.EnqueuedAt,
	}
}

func toEntries(entries []media.QueueEntry) []Entry {
	out := make([]Entry, len(entries))
	for i := range entries {
		out[i] = *toEntry(&entries[i])
	}
	return out
}

func toStatus(s *session.Status) *GetStatusResponse {
	return &GetStatusResponse{
		State:       s.State.String(),
		Connected:   s.Connected,
		Current:     toEntry(s.Current),
		Queue:       toEntries(s.Queue),
		History:     toEntries(s.History),
		AssetsInUse: s.Assets.InUse,
		Requesters:  s.Requesters,
		Subscribers: s.Subscribers,
		IdleForSec:  s.IdleFor.Seconds(),
	}
}

func toNotification(n notification.Notice) *Notification {
	out := &Notification{
		SequenceNo: n.SequenceNo,
		At:         n.At,
		Type:       n.Event.Type.String(),
		State:      n.Event.State.String(),
		Entry:      toEntry(n.Event.Entry),
		Position:   n.Event.Position,
		Count:      n.Event.Count,
	}
	if n.Event.Err != nil {
		out.Error = n.Event.Err.Error()
	}
	return out
}

func initialState(s *session.Status) *Notification {
	return &Notification{
		At:     time.Now(),
		Type:   NotificationTypeInitialState,
		State:  s.State.String(),
		Entry:  toEntry(s.Current),
		Status: toStatus(s),
	}
}
