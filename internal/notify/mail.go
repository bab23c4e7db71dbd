package notify

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"printwatch/internal/model"
)

// Notifier tells a job's owner about a lifecycle change
type Notifier interface {
	Notify(ctx context.Context, to string, job model.Job) error
}

// SMTPConfig holds mail server settings. An empty Host disables delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendMailFunc matches smtp.SendMail
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends job status mails, or logs them when no server is configured
type Mailer struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
}

// NewMailer creates a mail notifier
func NewMailer(cfg SMTPConfig) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "printwatch@localhost"
	}
	return &Mailer{cfg: cfg, sendMail: smtp.SendMail}
}

// Enabled reports whether mails are actually delivered
func (m *Mailer) Enabled() bool {
	return m.cfg.Host != ""
}

// Notify sends the job status to the given address
func (m *Mailer) Notify(ctx context.Context, to string, job model.Job) error {
	if to == "" {
		return nil
	}

	if !m.Enabled() {
		log.Printf("[EMAIL] To: %s | Job %d status: %s", to, job.ID, job.Status)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.sendMail(addr, auth, m.cfg.From, []string{to}, buildMessage(m.cfg.From, to, job)); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}

	log.Printf("[EMAIL] Sent job %d status (%s) to %s", job.ID, job.Status, to)
	return nil
}

func buildMessage(from, to string, job model.Job) []byte {
	subject := fmt.Sprintf("Print job %d %s", job.ID, job.Status)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "Job %d (%s) on printer %d is now %s.\r\n", job.ID, job.FileName, job.PrinterID, job.Status)
	fmt.Fprintf(&b, "Progress: %.1f%%\r\n", job.Progress)
	if job.FinishedAt != nil {
		fmt.Fprintf(&b, "Finished at: %s\r\n", job.FinishedAt.Format(time.RFC3339))
	}
	return []byte(b.String())
}
