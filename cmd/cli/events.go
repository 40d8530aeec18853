package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/yourusername/yt-relay/internal/domain"
)

// messageReader is the read side of a websocket connection
type messageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// dialEvents opens an observer connection to the server
func dialEvents() (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(serverURL, "/"), "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	return conn, nil
}

// submit sends a download request for resourceID
func submit(conn *websocket.Conn, resourceID string) error {
	data, err := json.Marshal(map[string]string{
		"type":    domain.DownloadRequestType,
		"videoId": resourceID,
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// follow prints events for key until its download completes or fails.
// With detach it returns as soon as the server acknowledged the request.
// The result is false when the download or the request failed.
func follow(conn messageReader, key string, detach bool, w io.Writer) (bool, error) {
	for {
		ev, err := nextEvent(conn)
		if err != nil {
			return false, err
		}

		// An error without a key answers our own malformed request
		if ev.Event == domain.EventError && ev.Key == "" {
			fmt.Fprintln(w, formatEvent(ev))
			return false, nil
		}
		if ev.Key != key {
			continue
		}

		fmt.Fprintln(w, formatEvent(ev))
		switch ev.Event {
		case domain.EventComplete:
			return true, nil
		case domain.EventError:
			return false, nil
		case domain.EventStarted, domain.EventInfo:
			if detach {
				return true, nil
			}
		}
	}
}

// watch prints every event until the connection closes
func watch(conn messageReader, w io.Writer) error {
	for {
		ev, err := nextEvent(conn)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fmt.Fprintln(w, formatEvent(ev))
	}
}

func nextEvent(conn messageReader) (domain.WireEvent, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return domain.WireEvent{}, err
		}
		ev, err := domain.DecodeEvent(data)
		if err != nil {
			continue
		}
		return ev, nil
	}
}

// formatEvent renders one event as a single line
func formatEvent(ev domain.WireEvent) string {
	switch ev.Event {
	case domain.EventDownloadsList:
		active := 0
		for _, job := range ev.Downloads {
			if job.Status.IsActive() {
				active++
			}
		}
		return fmt.Sprintf("%d downloads (%d active)", len(ev.Downloads), active)
	case domain.EventStarted:
		return fmt.Sprintf("[%s] started", ev.Key)
	case domain.EventProgress:
		line := fmt.Sprintf("[%s] %s %s %s", ev.Key, ev.Status,
			formatPercent(ev.Percent), formatBytes(ev.DownloadedBytes, ev.TotalBytes))
		if ev.Speed != nil {
			line += " at " + humanBytes(*ev.Speed) + "/s"
		}
		if ev.ETA != nil {
			line += fmt.Sprintf(", ETA %ds", *ev.ETA)
		}
		return line
	case domain.EventComplete:
		return fmt.Sprintf("[%s] complete: %s -> %s", ev.Key, deref(ev.Title), deref(ev.Filename))
	case domain.EventError:
		if ev.Key == "" {
			return "error: " + ev.Message
		}
		return fmt.Sprintf("[%s] error: %s", ev.Key, ev.Message)
	case domain.EventInfo:
		return fmt.Sprintf("[%s] %s", ev.Key, ev.Message)
	}
	return string(ev.Event)
}

func formatPercent(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func formatBytes(downloaded int64, total *int64) string {
	if total == nil {
		return humanBytes(float64(downloaded))
	}
	return humanBytes(float64(downloaded)) + " / " + humanBytes(float64(*total))
}

func humanBytes(n float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for n >= 1024 && i < len(units)-1 {
		n /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0f %s", n, units[i])
	}
	return fmt.Sprintf("%.1f %s", n, units[i])
}
