package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind discriminates outbound messages (the "event" field)
type EventKind string

const (
	EventDownloadsList EventKind = "downloads_list"
	EventStarted       EventKind = "download_started"
	EventProgress      EventKind = "progress"
	EventComplete      EventKind = "download_complete"
	EventError         EventKind = "error"
	EventInfo          EventKind = "info"
)

// Event is an immutable snapshot emitted at a state transition.
// Which fields are serialized depends on Kind, see MarshalJSON.
type Event struct {
	Kind      EventKind
	Key       string
	Job       Job
	Downloads map[string]Job
	Message   string
	Timestamp time.Time
}

// NewDownloadsListEvent creates the full-snapshot event
func NewDownloadsListEvent(downloads map[string]Job) Event {
	if downloads == nil {
		downloads = map[string]Job{}
	}
	return Event{Kind: EventDownloadsList, Downloads: downloads}
}

// NewStartedEvent creates a download_started event from a job snapshot
func NewStartedEvent(job Job, at time.Time) Event {
	return Event{Kind: EventStarted, Key: job.Key, Job: job, Timestamp: at}
}

// NewProgressEvent creates a progress event from a job snapshot
func NewProgressEvent(job Job, at time.Time) Event {
	return Event{Kind: EventProgress, Key: job.Key, Job: job, Timestamp: at}
}

// NewCompleteEvent creates a download_complete event from a job snapshot
func NewCompleteEvent(job Job, at time.Time) Event {
	return Event{Kind: EventComplete, Key: job.Key, Job: job, Timestamp: at}
}

// NewErrorEvent creates an error event. key may be empty for errors that
// are not tied to a job (malformed requests); a zero time omits the timestamp.
func NewErrorEvent(key, message string, at time.Time) Event {
	return Event{Kind: EventError, Key: key, Message: message, Timestamp: at}
}

// NewInfoEvent creates an info event sent to a single requester
func NewInfoEvent(key, message string) Event {
	return Event{Kind: EventInfo, Key: key, Message: message}
}

// MarshalJSON renders the wire shape for the event kind
func (e Event) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp.Unix()
	switch e.Kind {
	case EventDownloadsList:
		return json.Marshal(struct {
			Event     EventKind      `json:"event"`
			Downloads map[string]Job `json:"downloads"`
		}{e.Kind, e.Downloads})
	case EventStarted:
		return json.Marshal(struct {
			Event     EventKind `json:"event"`
			Key       string    `json:"videoId"`
			Status    JobStatus `json:"status"`
			Timestamp int64     `json:"timestamp"`
		}{e.Kind, e.Key, e.Job.Status, ts})
	case EventProgress:
		return json.Marshal(struct {
			Event           EventKind `json:"event"`
			Key             string    `json:"videoId"`
			Status          JobStatus `json:"status"`
			Percent         *float64  `json:"percent"`
			DownloadedBytes int64     `json:"downloaded_bytes"`
			TotalBytes      *int64    `json:"total_bytes"`
			Speed           *float64  `json:"speed"`
			ETA             *int64    `json:"eta"`
			Filename        *string   `json:"filename"`
			Timestamp       int64     `json:"timestamp"`
		}{e.Kind, e.Key, e.Job.Status, e.Job.Percent, e.Job.DownloadedBytes, e.Job.TotalBytes,
			e.Job.Speed, e.Job.ETA, e.Job.Filename, ts})
	case EventComplete:
		return json.Marshal(struct {
			Event     EventKind `json:"event"`
			Key       string    `json:"videoId"`
			Title     *string   `json:"title"`
			Filename  *string   `json:"filename"`
			Timestamp int64     `json:"timestamp"`
		}{e.Kind, e.Key, e.Job.Title, e.Job.Filename, ts})
	case EventError:
		var tsPtr *int64
		if !e.Timestamp.IsZero() {
			tsPtr = &ts
		}
		return json.Marshal(struct {
			Event     EventKind `json:"event"`
			Key       string    `json:"videoId,omitempty"`
			Message   string    `json:"message"`
			Timestamp *int64    `json:"timestamp,omitempty"`
		}{e.Kind, e.Key, e.Message, tsPtr})
	case EventInfo:
		return json.Marshal(struct {
			Event   EventKind `json:"event"`
			Key     string    `json:"videoId"`
			Message string    `json:"message"`
		}{e.Kind, e.Key, e.Message})
	}
	return nil, fmt.Errorf("unknown event kind: %q", e.Kind)
}

// Encode serializes the event for the wire
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Kind, err)
	}
	return data, nil
}

// WireEvent is the decoded form of any outbound message, used by clients
type WireEvent struct {
	Event           EventKind      `json:"event"`
	Key             string         `json:"videoId"`
	Status          JobStatus      `json:"status"`
	Percent         *float64       `json:"percent"`
	DownloadedBytes int64          `json:"downloaded_bytes"`
	TotalBytes      *int64         `json:"total_bytes"`
	Speed           *float64       `json:"speed"`
	ETA             *int64         `json:"eta"`
	Filename        *string        `json:"filename"`
	Title           *string        `json:"title"`
	Message         string         `json:"message"`
	Timestamp       *int64         `json:"timestamp"`
	Downloads       map[string]Job `json:"downloads"`
}

// DecodeEvent parses an outbound message
func DecodeEvent(data []byte) (WireEvent, error) {
	var ev WireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return WireEvent{}, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Event == "" {
		return WireEvent{}, fmt.Errorf("message has no event field")
	}
	return ev, nil
}
