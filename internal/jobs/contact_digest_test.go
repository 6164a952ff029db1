package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bandyab/bandyab/internal/config"
	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSource struct {
	msgs   []models.ContactMessage
	err    error
	cutoff time.Time
}

func (s *fakeSource) Unanswered(_ context.Context, olderThan time.Time) ([]models.ContactMessage, error) {
	s.cutoff = olderThan
	return s.msgs, s.err
}

type sentMail struct {
	to      []string
	subject string
	body    string
}

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(to []string, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

func enabledConfig() *config.NotificationsConfig {
	return &config.NotificationsConfig{
		Enabled:     true,
		SMTP:        config.SMTPConfig{Host: "smtp.example.com", Port: 587, From: "noreply@bandyab.ir"},
		AdminEmails: []string{"admin@bandyab.ir"},
	}
}

func messages(n int, now time.Time) []models.ContactMessage {
	out := make([]models.ContactMessage, n)
	for i := range out {
		out[i] = models.ContactMessage{
			ID:        fmt.Sprintf("m-%d", i),
			Name:      "Ali",
			Subject:   fmt.Sprintf("subject %d", i),
			Status:    models.MessageStatusNew,
			CreatedAt: now.Add(-3 * time.Hour),
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestContactDigest_RunSendsSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	src := &fakeSource{msgs: messages(2, now)}
	mailer := &fakeMailer{}
	job := NewContactDigestJob(src, mailer, enabledConfig())
	job.now = func() time.Time { return now }

	before := testutil.ToFloat64(telemetry.DigestEmailsSentTotal)
	n, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-time.Hour), src.cutoff)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"admin@bandyab.ir"}, mailer.sent[0].to)
	assert.Contains(t, mailer.sent[0].subject, "2")
	assert.Contains(t, mailer.sent[0].body, "subject 0")
	assert.Contains(t, mailer.sent[0].body, "subject 1")
	assert.Equal(t, before+1, testutil.ToFloat64(telemetry.DigestEmailsSentTotal))
}

func TestContactDigest_NothingToSend(t *testing.T) {
	mailer := &fakeMailer{}
	job := NewContactDigestJob(&fakeSource{}, mailer, enabledConfig())

	n, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, mailer.sent)
}

func TestContactDigest_Errors(t *testing.T) {
	job := NewContactDigestJob(&fakeSource{err: errors.New("db down")}, &fakeMailer{}, enabledConfig())
	_, err := job.Run(context.Background())
	assert.Error(t, err)

	job = NewContactDigestJob(&fakeSource{msgs: messages(1, time.Now())}, &fakeMailer{err: errors.New("smtp 554")}, enabledConfig())
	_, err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp 554")
}

func TestComposeDigest_Truncates(t *testing.T) {
	now := time.Now()
	_, body := composeDigest(messages(maxDigestSubjects+7, now), now)

	assert.Equal(t, maxDigestSubjects, strings.Count(body, "- subject"))
	assert.Contains(t, body, "7")
}

// ---------------------------------------------------------------------------
// Start / Stop
// ---------------------------------------------------------------------------

func TestContactDigest_StartDisabled(t *testing.T) {
	tests := map[string]func(*config.NotificationsConfig){
		"notifications off": func(c *config.NotificationsConfig) { c.Enabled = false },
		"no smtp host":      func(c *config.NotificationsConfig) { c.SMTP.Host = "" },
		"no admins":         func(c *config.NotificationsConfig) { c.AdminEmails = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := enabledConfig()
			mutate(cfg)
			job := NewContactDigestJob(&fakeSource{}, &fakeMailer{}, cfg)
			require.NoError(t, job.Start(context.Background()))
			assert.Nil(t, job.cron)
			job.Stop()
		})
	}
}

func TestContactDigest_StartSchedules(t *testing.T) {
	cfg := enabledConfig()
	cfg.DigestSchedule = "*/5 * * * *"
	job := NewContactDigestJob(&fakeSource{}, &fakeMailer{}, cfg)

	require.NoError(t, job.Start(context.Background()))
	require.NotNil(t, job.cron)
	assert.Len(t, job.cron.Entries(), 1)
	job.Stop()
}

func TestContactDigest_StartInvalidSchedule(t *testing.T) {
	cfg := enabledConfig()
	cfg.DigestSchedule = "every morning"
	job := NewContactDigestJob(&fakeSource{}, &fakeMailer{}, cfg)
	assert.Error(t, job.Start(context.Background()))
}

func TestContactDigest_DefaultSchedule(t *testing.T) {
	job := NewContactDigestJob(&fakeSource{}, &fakeMailer{}, &config.NotificationsConfig{})
	assert.Equal(t, DefaultDigestSchedule, job.schedule())
}
