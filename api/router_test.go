package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/yt-relay/internal/app"
	"github.com/yourusername/yt-relay/internal/domain"
	"github.com/yourusername/yt-relay/internal/infrastructure"
)

// scriptedEngine replays fixed progress updates, optionally held by gate
type scriptedEngine struct {
	updates []domain.ProgressUpdate
	result  *domain.DownloadResult
	err     error
	gate    chan struct{}
	calls   atomic.Int32
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Download(ctx context.Context, url, output string, progress domain.ProgressFunc) (*domain.DownloadResult, error) {
	e.calls.Add(1)
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	for _, u := range e.updates {
		progress(u)
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func successfulEngine() *scriptedEngine {
	return &scriptedEngine{
		updates: []domain.ProgressUpdate{
			{Status: domain.EngineStatusDownloading, DownloadedBytes: 256, TotalBytes: domain.Int64(1024), Filename: "a.mp4.part"},
			{Status: domain.EngineStatusDownloading, DownloadedBytes: 512, TotalBytes: domain.Int64(1024), Filename: "a.mp4.part"},
			{Status: domain.EngineStatusDownloading, DownloadedBytes: 1024, TotalBytes: domain.Int64(1024), Filename: "a.mp4.part"},
			{Status: domain.EngineStatusFinished, DownloadedBytes: 1024, TotalBytes: domain.Int64(1024), Filename: "a.mp4"},
		},
		result: &domain.DownloadResult{Title: "A Video", Filename: "/dl/A Video.mp4"},
	}
}

type testServer struct {
	server      *httptest.Server
	registry    *app.JobRegistry
	broadcaster *app.Broadcaster
	dispatcher  *app.WorkerDispatcher
}

func newTestServer(t *testing.T, engine domain.Engine, archive domain.JobArchive) *testServer {
	t.Helper()

	cfg := domain.DefaultConfig()
	cfg.Download.BaseDir = t.TempDir()

	registry := app.NewJobRegistry()
	broadcaster := app.NewBroadcaster(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		broadcaster.Run(ctx)
	}()
	require.Eventually(t, broadcaster.IsRunning, time.Second, time.Millisecond)

	bridge := app.NewProgressBridge(registry, broadcaster, nil)
	dispatcher := app.NewWorkerDispatcher(bridge, engine, cfg.Download, nil)
	if archive != nil {
		app.ArchiveTerminalJobs(bridge, archive, nil)
	}

	router := SetupRouter(Dependencies{
		Registry:    registry,
		Bridge:      bridge,
		Broadcaster: broadcaster,
		Dispatcher:  dispatcher,
		Archive:     archive,
		Broadcast:   cfg.Broadcast,
		LogsDir:     cfg.Download.LogsDir(),
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		dispatcher.Stop()
		cancel()
		<-done
		server.Close()
	})

	return &testServer{
		server:      server,
		registry:    registry,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
	}
}

// dial connects an observer and consumes its initial downloads_list
func (s *testServer) dial(t *testing.T, path string) (*websocket.Conn, domain.WireEvent) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	first := readEvent(t, conn)
	require.Equal(t, domain.EventDownloadsList, first.Event)
	return conn, first
}

func (s *testServer) postDownload(t *testing.T, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(s.server.URL+"/api/v1/downloads", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (s *testServer) getJSON(t *testing.T, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(s.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.WireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := domain.DecodeEvent(data)
	require.NoError(t, err)
	return ev
}

// readUntil collects events up to and including the first kind event for key
func readUntil(t *testing.T, conn *websocket.Conn, kind domain.EventKind, key string) []domain.WireEvent {
	t.Helper()
	var events []domain.WireEvent
	for {
		ev := readEvent(t, conn)
		events = append(events, ev)
		if ev.Event == kind && ev.Key == key {
			return events
		}
	}
}

// assertSilent checks that nothing arrives on conn for a short while
func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	assert.Error(t, err, "unexpected message: %s", data)
}

func countKind(events []domain.WireEvent, kind domain.EventKind, key string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == kind && ev.Key == key {
			n++
		}
	}
	return n
}

func TestConnection_InitialSnapshot(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)

	for _, path := range []string{"/", "/ws"} {
		_, first := s.dial(t, path)
		assert.Empty(t, first.Downloads, path)
	}
	require.Eventually(t, func() bool { return s.broadcaster.Count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestConnection_FullLifecycle(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)
	conn, _ := s.dial(t, "/ws")

	send(t, conn, `{"type":"download","videoId":"abc123"}`)
	events := readUntil(t, conn, domain.EventComplete, "abc123")

	var kinds []domain.EventKind
	var downloaded []int64
	var extracting *domain.WireEvent
	for i, ev := range events {
		kinds = append(kinds, ev.Event)
		if ev.Event == domain.EventProgress && ev.Status == domain.StatusDownloading {
			downloaded = append(downloaded, ev.DownloadedBytes)
		}
		if ev.Event == domain.EventProgress && ev.Status == domain.StatusExtracting {
			extracting = &events[i]
		}
	}

	// queued snapshot, then started, then progress, then complete
	assert.Equal(t, domain.EventDownloadsList, kinds[0])
	assert.Equal(t, domain.StatusQueued, events[0].Downloads["abc123"].Status)
	assert.Equal(t, domain.EventStarted, kinds[1])
	assert.Equal(t, domain.StatusStarting, events[1].Status)
	assert.NotNil(t, events[1].Timestamp)
	assert.Equal(t, domain.EventComplete, kinds[len(kinds)-1])

	require.NotEmpty(t, downloaded)
	assert.IsIncreasing(t, downloaded)

	require.NotNil(t, extracting)
	require.NotNil(t, extracting.Percent)
	assert.Equal(t, 100.0, *extracting.Percent)

	complete := events[len(events)-1]
	require.NotNil(t, complete.Title)
	assert.Equal(t, "A Video", *complete.Title)
	assert.Equal(t, "/dl/A Video.mp4", *complete.Filename)

	job, ok := s.registry.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFinished, job.Status)
	assert.NotNil(t, job.FinishedAt)
}

func TestConnection_BareIdentifierAndURL(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)
	conn, _ := s.dial(t, "/ws")

	send(t, conn, "bare_id1")
	readUntil(t, conn, domain.EventComplete, "bare_id1")

	send(t, conn, `{"videoId":"https://youtu.be/short_id2"}`)
	readUntil(t, conn, domain.EventComplete, "short_id2")
}

func TestConnection_MalformedOnlyToSender(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)
	sender, _ := s.dial(t, "/ws")
	other, _ := s.dial(t, "/ws")

	send(t, sender, `[1, 2, 3]`)

	ev := readEvent(t, sender)
	assert.Equal(t, domain.EventError, ev.Event)
	assert.Empty(t, ev.Key)
	assert.NotEmpty(t, ev.Message)

	assertSilent(t, other)
	assertSilent(t, sender)
	assert.Empty(t, s.registry.SnapshotAll())
}

func TestConnection_InvalidIdentifier(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)
	conn, _ := s.dial(t, "/ws")

	send(t, conn, `{"videoId":"not a video id!"}`)

	ev := readEvent(t, conn)
	assert.Equal(t, domain.EventError, ev.Event)
	assert.Contains(t, ev.Message, "invalid video id")
	assert.Empty(t, s.registry.SnapshotAll())
}

func TestConnection_DuplicateGetsInfo(t *testing.T) {
	engine := successfulEngine()
	engine.gate = make(chan struct{})
	s := newTestServer(t, engine, nil)

	first, _ := s.dial(t, "/ws")
	second, _ := s.dial(t, "/ws")

	send(t, first, "abc123")
	readUntil(t, second, domain.EventStarted, "abc123")

	send(t, second, `{"type":"download","videoId":"abc123"}`)
	info := readUntil(t, second, domain.EventInfo, "abc123")
	assert.Equal(t, "Already downloading", info[len(info)-1].Message)

	close(engine.gate)
	firstEvents := readUntil(t, first, domain.EventComplete, "abc123")
	secondEvents := readUntil(t, second, domain.EventComplete, "abc123")

	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Equal(t, 1, countKind(firstEvents, domain.EventStarted, "abc123"))
	assert.Zero(t, countKind(firstEvents, domain.EventInfo, "abc123"))
	assert.Zero(t, countKind(secondEvents, domain.EventStarted, "abc123"))
}

func TestConnection_EngineFailure(t *testing.T) {
	engine := successfulEngine()
	engine.updates = engine.updates[:1]
	engine.err = errors.New("network down")
	s := newTestServer(t, engine, nil)
	conn, _ := s.dial(t, "/ws")

	send(t, conn, "abc123")
	events := readUntil(t, conn, domain.EventError, "abc123")

	failure := events[len(events)-1]
	assert.Equal(t, "network down", failure.Message)
	assert.NotNil(t, failure.Timestamp)
	assert.Equal(t, 1, countKind(events, domain.EventError, "abc123"))
	assertSilent(t, conn)

	job, _ := s.registry.Get("abc123")
	assert.Equal(t, domain.StatusError, job.Status)
	assert.NotNil(t, job.FinishedAt)
	require.NotNil(t, job.Error)
	assert.Equal(t, "network down", *job.Error)
}

func TestConnection_DisconnectDoesNotAffectJob(t *testing.T) {
	engine := successfulEngine()
	engine.gate = make(chan struct{})
	s := newTestServer(t, engine, nil)

	conn, _ := s.dial(t, "/ws")
	send(t, conn, "abc123")
	readUntil(t, conn, domain.EventStarted, "abc123")
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.broadcaster.Count() == 0 }, 2*time.Second, 5*time.Millisecond)

	close(engine.gate)
	require.Eventually(t, func() bool {
		job, _ := s.registry.Get("abc123")
		return job.Status == domain.StatusFinished
	}, 2*time.Second, 5*time.Millisecond)

	_, snapshot := s.dial(t, "/ws")
	require.Contains(t, snapshot.Downloads, "abc123")
	assert.Equal(t, domain.StatusFinished, snapshot.Downloads["abc123"].Status)
	assert.Equal(t, "A Video", *snapshot.Downloads["abc123"].Title)
}

func TestREST_Downloads(t *testing.T) {
	engine := successfulEngine()
	engine.gate = make(chan struct{})
	s := newTestServer(t, engine, nil)

	status, body := s.postDownload(t, `{"videoId":"abc123"}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "accepted", body["outcome"])
	assert.Equal(t, "abc123", body["videoId"])

	status, body = s.postDownload(t, `{"videoId":"https://www.youtube.com/watch?v=abc123"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "already_in_flight", body["outcome"])
	assert.Equal(t, "Already downloading", body["message"])

	status, _ = s.postDownload(t, `{"videoId":"bad id!"}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.postDownload(t, `{}`)
	assert.Equal(t, http.StatusBadRequest, status)

	status, body = s.getJSON(t, "/api/v1/downloads/abc123")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "abc123", body["videoId"])

	status, _ = s.getJSON(t, "/api/v1/downloads/missing")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = s.getJSON(t, "/api/v1/downloads")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	status, body = s.getJSON(t, "/api/v1/downloads?status=finished")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), body["count"])

	close(engine.gate)
	require.Eventually(t, func() bool {
		_, body := s.getJSON(t, "/api/v1/downloads/stats")
		jobs := body["jobs"].(map[string]interface{})
		return jobs["finished"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestREST_History(t *testing.T) {
	archive, err := infrastructure.NewSQLiteJobArchive(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	s := newTestServer(t, successfulEngine(), archive)

	status, _ := s.postDownload(t, `{"videoId":"abc123"}`)
	require.Equal(t, http.StatusAccepted, status)

	require.Eventually(t, func() bool {
		_, body := s.getJSON(t, "/api/v1/history?videoId=abc123")
		return body["count"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)

	status, body := s.getJSON(t, "/api/v1/history/stats")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["finished"])
}

func TestREST_HistoryNotMountedWithoutArchive(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)

	status, _ := s.getJSON(t, "/api/v1/history")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestREST_Health(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)
	s.dial(t, "/ws")
	require.Eventually(t, func() bool { return s.broadcaster.Count() == 1 }, time.Second, 5*time.Millisecond)

	status, body := s.getJSON(t, "/health")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	broadcaster := body["broadcaster"].(map[string]interface{})
	assert.Equal(t, true, broadcaster["running"])
	assert.Equal(t, float64(1), broadcaster["observers"])

	status, body = s.getJSON(t, "/ready")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
}

func TestREST_Logs(t *testing.T) {
	s := newTestServer(t, successfulEngine(), nil)

	status, body := s.getJSON(t, "/api/v1/logs/categories")
	assert.Equal(t, http.StatusOK, status)
	assert.ElementsMatch(t, []interface{}{"job", "connection", "error"}, body["categories"])

	status, _ = s.getJSON(t, "/api/v1/logs/bogus")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.getJSON(t, "/api/v1/logs/job?date=yesterday")
	assert.Equal(t, http.StatusBadRequest, status)
}
