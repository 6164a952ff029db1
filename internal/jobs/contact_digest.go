package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/telemetry"
)

// DefaultDigestSchedule runs the digest every day at 09:00
const DefaultDigestSchedule = "0 9 * * *"

// digestMinAge keeps messages that just arrived out of the digest
const digestMinAge = time.Hour

// maxDigestSubjects bounds the subjects listed in one email
const maxDigestSubjects = 50

// UnansweredSource lists contact messages still waiting for an admin;
// *repositories.MessageRepository satisfies it
type UnansweredSource interface {
	Unanswered(ctx context.Context, olderThan time.Time) ([]models.ContactMessage, error)
}

// ContactDigestJob emails the admins a summary of unanswered contact messages on a
// cron schedule. It is a no-op when notifications are disabled, no SMTP host is set
// or no admin address is configured.
type ContactDigestJob struct {
	messages UnansweredSource
	mailer   Mailer
	cfg      *config.NotificationsConfig
	cron     *cron.Cron
	now      func() time.Time
}

// NewContactDigestJob creates the job
func NewContactDigestJob(messages UnansweredSource, mailer Mailer, cfg *config.NotificationsConfig) *ContactDigestJob {
	return &ContactDigestJob{messages: messages, mailer: mailer, cfg: cfg, now: time.Now}
}

func (j *ContactDigestJob) schedule() string {
	if s := strings.TrimSpace(j.cfg.DigestSchedule); s != "" {
		return s
	}
	return DefaultDigestSchedule
}

// Start registers the schedule and starts the cron runner. It returns an error only
// for an invalid schedule.
func (j *ContactDigestJob) Start(ctx context.Context) error {
	switch {
	case !j.cfg.Enabled:
		slog.Info("contact digest: disabled (notifications.enabled=false)")
		return nil
	case j.cfg.SMTP.Host == "":
		slog.Info("contact digest: disabled (notifications.smtp.host not set)")
		return nil
	case len(j.cfg.AdminEmails) == 0:
		slog.Info("contact digest: disabled (notifications.admin_emails empty)")
		return nil
	}

	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(j.schedule(), func() {
		if _, err := j.Run(ctx); err != nil {
			slog.Error("contact digest failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid digest schedule %q: %w", j.schedule(), err)
	}
	j.cron = c
	c.Start()
	slog.Info("contact digest scheduled", "schedule", j.schedule(), "recipients", len(j.cfg.AdminEmails))
	return nil
}

// Stop halts the scheduler and waits for a running digest to finish
func (j *ContactDigestJob) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// Run sends one digest now. It returns the number of messages reported; zero means
// nothing was sent.
func (j *ContactDigestJob) Run(ctx context.Context) (int, error) {
	msgs, err := j.messages.Unanswered(ctx, j.now().Add(-digestMinAge))
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	subject, body := composeDigest(msgs, j.now())
	if err := j.mailer.Send(j.cfg.AdminEmails, subject, body); err != nil {
		return 0, fmt.Errorf("failed to send digest: %w", err)
	}
	telemetry.DigestEmailsSentTotal.Inc()
	slog.Info("contact digest sent", "messages", len(msgs), "recipients", len(j.cfg.AdminEmails))
	return len(msgs), nil
}

func composeDigest(msgs []models.ContactMessage, now time.Time) (string, string) {
	subject := fmt.Sprintf("باندیاب: %d پیام بی‌پاسخ", len(msgs))

	var b strings.Builder
	fmt.Fprintf(&b, "%d پیام تماس هنوز پاسخ داده نشده است.\n\n", len(msgs))
	for i, m := range msgs {
		if i == maxDigestSubjects {
			fmt.Fprintf(&b, "... و %d پیام دیگر\n", len(msgs)-maxDigestSubjects)
			break
		}
		age := now.Sub(m.CreatedAt).Round(time.Hour)
		fmt.Fprintf(&b, "- %s (%s, %s پیش)\n", m.Subject, m.Name, age)
	}
	b.WriteString("\nبرای پاسخ به صندوق پیام‌های پنل مدیریت مراجعه کنید.\n")
	return subject, b.String()
}
