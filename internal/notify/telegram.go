package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"printwatch/internal/model"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken        string
	ChatID          string
	CooldownSeconds int    // Minimum gap between alerts for the same job and status
	APIBase         string // Defaults to the public Bot API
}

// ValidateTelegramConfig checks the settings needed to send alerts
func ValidateTelegramConfig(config TelegramConfig) error {
	if config.BotToken == "" {
		return fmt.Errorf("telegram bot token is required when enabled")
	}
	if config.ChatID == "" {
		return fmt.Errorf("telegram chat ID is required when enabled")
	}
	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}
	return nil
}

// telegramResponse represents the response from Telegram API
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramBot posts job alerts to a Telegram chat
type TelegramBot struct {
	botToken   string
	chatID     string
	apiBase    string
	httpClient *http.Client

	mu              sync.Mutex
	cooldownTracker map[string]time.Time
	cooldownPeriod  time.Duration
}

// NewTelegramBot creates a new Telegram bot instance
func NewTelegramBot(config TelegramConfig) *TelegramBot {
	apiBase := strings.TrimRight(config.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultTelegramAPI
	}

	return &TelegramBot{
		botToken:        config.BotToken,
		chatID:          config.ChatID,
		apiBase:         apiBase,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		cooldownTracker: make(map[string]time.Time),
		cooldownPeriod:  time.Duration(config.CooldownSeconds) * time.Second,
	}
}

// SendMessage sends a text message
func (tb *TelegramBot) SendMessage(ctx context.Context, message string) error {
	payload := map[string]interface{}{
		"chat_id":    tb.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendMessage"), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return tb.do(req)
}

// SendPhoto sends a JPEG photo with optional caption
func (tb *TelegramBot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", tb.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		writer.WriteField("caption", caption)
		writer.WriteField("parse_mode", "HTML")
	}

	part, err := writer.CreateFormFile("photo", "printer.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tb.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return tb.do(req)
}

// SendJobAlert reports a job status change, with the camera frame attached when available.
// Repeated alerts for the same job and status inside the cooldown are skipped.
func (tb *TelegramBot) SendJobAlert(ctx context.Context, job model.Job, reason string, frameJPEG []byte) error {
	key := fmt.Sprintf("%d:%s", job.ID, job.Status)
	if !tb.claimCooldown(key) {
		return nil
	}

	message := JobAlertText(job, reason)
	var err error
	if len(frameJPEG) > 0 {
		err = tb.SendPhoto(ctx, frameJPEG, message)
	} else {
		err = tb.SendMessage(ctx, message)
	}
	if err != nil {
		tb.releaseCooldown(key)
	}
	return err
}

// JobAlertText formats the alert for a job
func JobAlertText(job model.Job, reason string) string {
	var icon, title string
	switch job.Status {
	case model.JobStatusCompleted:
		icon, title = "✅", "Print finished"
	case model.JobStatusFailed:
		icon, title = "🚨", "Print failed"
	case model.JobStatusMonitoringFailed:
		icon, title = "⚠️", "Monitoring stopped"
	default:
		icon, title = "🖨", "Print update"
	}

	now := time.Now()
	zoneName, _ := now.Zone()
	timestamp := fmt.Sprintf("%s %s", now.Format("2 Jan 2006, 15:04:05"), zoneName)

	message := fmt.Sprintf(
		"%s <b>%s</b>\n\n"+
			"🆔 Job: %d\n"+
			"📄 File: %s\n"+
			"🖨 Printer: %d\n"+
			"📊 Progress: %.0f%%\n"+
			"🕐 Time: %s",
		icon, title,
		job.ID,
		html.EscapeString(job.FileName),
		job.PrinterID,
		job.Progress,
		timestamp,
	)
	if reason != "" {
		message += fmt.Sprintf("\n🎯 Reason: %s", html.EscapeString(reason))
	}
	return message
}

func (tb *TelegramBot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", tb.apiBase, tb.botToken, method)
}

func (tb *TelegramBot) do(req *http.Request) error {
	resp, err := tb.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return nil
}

// claimCooldown reports whether an alert for key may be sent now and records it
func (tb *TelegramBot) claimCooldown(key string) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	if last, ok := tb.cooldownTracker[key]; ok && time.Since(last) < tb.cooldownPeriod {
		return false
	}
	tb.cooldownTracker[key] = time.Now()
	return true
}

func (tb *TelegramBot) releaseCooldown(key string) {
	tb.mu.Lock()
	delete(tb.cooldownTracker, key)
	tb.mu.Unlock()
}
