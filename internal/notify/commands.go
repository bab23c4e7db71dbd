package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"printwatch/internal/camera"
	"printwatch/internal/model"
)

// JobReader is the read side of the job manager the bot answers from
type JobReader interface {
	Get(ctx context.Context, id int) (model.Job, error)
	List(ctx context.Context) ([]model.Job, error)
}

// SessionCounter reports the number of running monitoring sessions
type SessionCounter interface {
	Active() int
}

// Snapshotter provides the latest camera frame
type Snapshotter interface {
	Latest() (*camera.Frame, error)
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat *struct {
			ID int64 `json:"id"`
		} `json:"chat,omitempty"`
		Text string `json:"text,omitempty"`
	} `json:"message,omitempty"`
}

type getUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []update `json:"result,omitempty"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

// CommandHandler answers chat commands from the configured chat
type CommandHandler struct {
	bot       *TelegramBot
	jobs      JobReader
	sessions  SessionCounter
	frames    Snapshotter
	interval  time.Duration
	lastID    int64
	startTime time.Time
}

// NewCommandHandler creates a command handler. sessions and frames may be nil.
func NewCommandHandler(bot *TelegramBot, jobs JobReader, sessions SessionCounter, frames Snapshotter) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		jobs:      jobs,
		sessions:  sessions,
		frames:    frames,
		interval:  2 * time.Second,
		startTime: time.Now(),
	}
}

// StartPolling polls for updates until ctx is done
func (ch *CommandHandler) StartPolling(ctx context.Context) {
	log.Printf("[Telegram] Command polling started")

	ticker := time.NewTicker(ch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Telegram] Command polling stopped")
			return
		case <-ticker.C:
			if err := ch.poll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[Telegram] Warning: failed to poll updates: %v", err)
			}
		}
	}
}

func (ch *CommandHandler) poll(ctx context.Context) error {
	url := fmt.Sprintf("%s?offset=%d&timeout=1", ch.bot.methodURL("getUpdates"), ch.lastID+1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ch.bot.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var updates getUpdatesResponse
	if err := json.Unmarshal(body, &updates); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !updates.OK {
		return fmt.Errorf("telegram API error %d: %s", updates.ErrorCode, updates.Description)
	}

	for _, u := range updates.Result {
		if u.UpdateID > ch.lastID {
			ch.lastID = u.UpdateID
		}
		if u.Message == nil || u.Message.Chat == nil {
			continue
		}
		if strconv.FormatInt(u.Message.Chat.ID, 10) != ch.bot.chatID {
			log.Printf("[Telegram] Ignoring message from unauthorized chat %d", u.Message.Chat.ID)
			continue
		}
		ch.handle(ctx, u.Message.Text)
	}
	return nil
}

// handle runs one command and sends the reply
func (ch *CommandHandler) handle(ctx context.Context, text string) {
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	command := strings.ToLower(parts[0])
	args := parts[1:]
	// Strip the bot username suffix, e.g. /status@printwatch_bot
	if i := strings.Index(command, "@"); i != -1 {
		command = command[:i]
	}

	var reply string
	switch command {
	case "/start", "/help":
		reply = helpText
	case "/status":
		reply = ch.status(ctx)
	case "/jobs":
		reply = ch.listJobs(ctx)
	case "/job":
		reply = ch.showJob(ctx, args)
	case "/snapshot":
		reply = ch.snapshot(ctx)
	default:
		reply = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", html.EscapeString(command))
	}

	if reply == "" {
		return
	}
	if err := ch.bot.SendMessage(ctx, reply); err != nil {
		log.Printf("[Telegram] Failed to send reply: %v", err)
	}
}

const helpText = "📋 <b>Available Commands</b>\n\n" +
	"/status - Open jobs and monitoring sessions\n" +
	"/jobs - Recent jobs\n" +
	"/job &lt;id&gt; - Job details\n" +
	"/snapshot - Current camera frame\n" +
	"/help - Show this help"

func (ch *CommandHandler) status(ctx context.Context) string {
	list, err := ch.jobs.List(ctx)
	if err != nil {
		return "⚠️ Could not load jobs."
	}

	open := 0
	for _, j := range list {
		if !j.Status.IsClosed() {
			open++
		}
	}
	sessions := 0
	if ch.sessions != nil {
		sessions = ch.sessions.Active()
	}

	return fmt.Sprintf(
		"📊 <b>Status</b>\n\n"+
			"🖨 Jobs: %d total, %d open\n"+
			"👁 Monitoring: %d session(s)\n"+
			"⏱ Uptime: %s",
		len(list), open, sessions, formatDuration(time.Since(ch.startTime)),
	)
}

// listJobs shows the ten most recent jobs
func (ch *CommandHandler) listJobs(ctx context.Context) string {
	list, err := ch.jobs.List(ctx)
	if err != nil {
		return "⚠️ Could not load jobs."
	}
	if len(list) == 0 {
		return "🖨 <b>Jobs</b>\n\nNo jobs yet."
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID > list[j].ID })
	if len(list) > 10 {
		list = list[:10]
	}

	var sb strings.Builder
	sb.WriteString("🖨 <b>Jobs</b>\n\n")
	for _, j := range list {
		fmt.Fprintf(&sb, "%s #%d %s - %s %.0f%%\n",
			statusIcon(j.Status), j.ID, html.EscapeString(j.FileName), j.Status, j.Progress)
	}
	return sb.String()
}

func (ch *CommandHandler) showJob(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /job &lt;id&gt;"
	}
	id, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil {
		return "⚠️ Job id must be a number."
	}

	job, err := ch.jobs.Get(ctx, id)
	if err != nil {
		return fmt.Sprintf("⚠️ Job %d not found.", id)
	}
	return JobAlertText(job, "")
}

// snapshot sends the frame as a photo and returns no text reply on success
func (ch *CommandHandler) snapshot(ctx context.Context) string {
	if ch.frames == nil {
		return "📷 Camera not configured."
	}
	frame, err := ch.frames.Latest()
	if err != nil {
		return "📷 Camera not available."
	}
	data, err := frame.EncodeJPEG(camera.DefaultJPEGQuality)
	if err != nil {
		return "⚠️ Failed to encode frame."
	}

	caption := fmt.Sprintf("📷 Snapshot %s", frame.CapturedAt.Format("15:04:05"))
	if err := ch.bot.SendPhoto(ctx, data, caption); err != nil {
		log.Printf("[Telegram] Failed to send snapshot: %v", err)
		return "⚠️ Failed to send snapshot."
	}
	return ""
}

func statusIcon(s model.JobStatus) string {
	switch s {
	case model.JobStatusCompleted:
		return "✅"
	case model.JobStatusFailed:
		return "🚨"
	case model.JobStatusMonitoringFailed:
		return "⚠️"
	default:
		return "🖨"
	}
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
