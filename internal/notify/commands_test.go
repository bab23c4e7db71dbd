package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printwatch/internal/camera"
	"printwatch/internal/model"
	"printwatch/internal/store"
)

type chatServer struct {
	mu      sync.Mutex
	updates string
	offsets []string
	replies []string
	photos  int
}

func newChatServer(t *testing.T, updates string) (*chatServer, *httptest.Server) {
	cs := &chatServer{updates: updates}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.mu.Lock()
		defer cs.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			cs.offsets = append(cs.offsets, r.URL.Query().Get("offset"))
			fmt.Fprintf(w, `{"ok":true,"result":[%s]}`, cs.updates)
			cs.updates = ""
			return
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var payload map[string]any
			json.NewDecoder(r.Body).Decode(&payload)
			cs.replies = append(cs.replies, payload["text"].(string))
		case strings.HasSuffix(r.URL.Path, "/sendPhoto"):
			cs.photos++
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	t.Cleanup(srv.Close)
	return cs, srv
}

func message(updateID int, chatID int64, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"chat":{"id":%d},"text":%q}}`, updateID, chatID, text)
}

type jobList []model.Job

func (l jobList) List(ctx context.Context) ([]model.Job, error) {
	return append([]model.Job(nil), l...), nil
}

func (l jobList) Get(ctx context.Context, id int) (model.Job, error) {
	for _, j := range l {
		if j.ID == id {
			return j, nil
		}
	}
	return model.Job{}, store.ErrNotFound
}

type sessions int

func (s sessions) Active() int { return int(s) }

type frames struct{ err error }

func (f frames) Latest() (*camera.Frame, error) {
	if f.err != nil {
		return nil, f.err
	}
	return camera.NewFrame(image.NewRGBA(image.Rect(0, 0, 4, 4))), nil
}

func testJobs() jobList {
	return jobList{
		{ID: 1, FileName: "benchy.gcode", Status: model.JobStatusCompleted, Progress: 100},
		{ID: 2, FileName: "vase.gcode", Status: model.JobStatusPrinting, Progress: 40},
	}
}

func TestCommandsFromAuthorizedChat(t *testing.T) {
	cs, srv := newChatServer(t, strings.Join([]string{
		message(10, 42, "/status"),
		message(11, 42, "/jobs@printwatch_bot"),
		message(12, 42, "/job 2"),
		message(13, 42, "/job 99"),
		message(14, 7, "/status"),
		message(15, 42, "just chatting"),
		message(16, 42, "/reboot"),
	}, ","))
	bot := NewTelegramBot(TelegramConfig{BotToken: "t", ChatID: "42", APIBase: srv.URL})
	ch := NewCommandHandler(bot, testJobs(), sessions(1), frames{})

	require.NoError(t, ch.poll(context.Background()))
	require.NoError(t, ch.poll(context.Background()))

	cs.mu.Lock()
	defer cs.mu.Unlock()

	assert.Equal(t, []string{"1", "17"}, cs.offsets)
	require.Len(t, cs.replies, 5)
	assert.Contains(t, cs.replies[0], "2 total, 1 open")
	assert.Contains(t, cs.replies[0], "1 session(s)")
	assert.True(t, strings.Index(cs.replies[1], "#2") < strings.Index(cs.replies[1], "#1"), "newest job first")
	assert.Contains(t, cs.replies[2], "vase.gcode")
	assert.Contains(t, cs.replies[3], "Job 99 not found")
	assert.Contains(t, cs.replies[4], "Unknown command: /reboot")
}

func TestSnapshotCommand(t *testing.T) {
	cs, srv := newChatServer(t, message(1, 42, "/snapshot"))
	bot := NewTelegramBot(TelegramConfig{BotToken: "t", ChatID: "42", APIBase: srv.URL})
	ch := NewCommandHandler(bot, testJobs(), nil, frames{})

	require.NoError(t, ch.poll(context.Background()))

	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Equal(t, 1, cs.photos)
	assert.Empty(t, cs.replies)
}

func TestSnapshotWithoutCamera(t *testing.T) {
	cs, srv := newChatServer(t, message(1, 42, "/snapshot"))
	bot := NewTelegramBot(TelegramConfig{BotToken: "t", ChatID: "42", APIBase: srv.URL})
	ch := NewCommandHandler(bot, testJobs(), nil, frames{err: camera.ErrCameraUnavailable})

	require.NoError(t, ch.poll(context.Background()))

	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Equal(t, 0, cs.photos)
	assert.Equal(t, []string{"📷 Camera not available."}, cs.replies)
}

func TestPollingStopsWithContext(t *testing.T) {
	_, srv := newChatServer(t, "")
	bot := NewTelegramBot(TelegramConfig{BotToken: "t", ChatID: "42", APIBase: srv.URL})
	ch := NewCommandHandler(bot, testJobs(), nil, nil)
	ch.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ch.StartPolling(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("polling did not stop")
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5m", formatDuration(5*time.Minute))
	assert.Equal(t, "2h 3m", formatDuration(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", formatDuration(25*time.Hour))
}
