// message_repository.go implements MessageRepository: the contact inbox, admin and user
// reply threads, and the unanswered-message query used by the digest job.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/jmoiron/sqlx"
)

const messageColumns = `id, profile_id, name, email, phone, subject, body, status, created_at, updated_at`

// MessageRepository handles contact message database operations
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create stores a new contact message with status new
func (r *MessageRepository) Create(ctx context.Context, m *models.ContactMessage) error {
	query := `
		INSERT INTO contact_messages (profile_id, name, email, phone, subject, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'new')
		RETURNING id, status, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		m.ProfileID, m.Name, m.Email, m.Phone, m.Subject, m.Body,
	).Scan(&m.ID, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create contact message: %w", err)
	}
	return nil
}

// GetByID retrieves a message without its replies
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.ContactMessage, error) {
	var m models.ContactMessage
	err := r.db.GetContext(ctx, &m, `SELECT `+messageColumns+` FROM contact_messages WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact message: %w", err)
	}
	return &m, nil
}

// GetThread retrieves a message with both reply tables merged in time order
func (r *MessageRepository) GetThread(ctx context.Context, id string) (*models.MessageThread, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil || m == nil {
		return nil, err
	}

	query := `
		SELECT id, message_id, admin_id AS author_id, body, true AS from_admin, created_at
		FROM admin_replies WHERE message_id = $1
		UNION ALL
		SELECT id, message_id, profile_id AS author_id, body, false AS from_admin, created_at
		FROM user_replies WHERE message_id = $1
		ORDER BY created_at ASC
	`
	replies := make([]models.Reply, 0)
	if err := r.db.SelectContext(ctx, &replies, query, id); err != nil {
		return nil, fmt.Errorf("failed to load replies: %w", err)
	}
	return &models.MessageThread{ContactMessage: *m, Replies: replies}, nil
}

// ListByStatus returns the admin inbox, optionally filtered by status, oldest first
func (r *MessageRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.ContactMessage, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM contact_messages WHERE ($1 = '' OR status = $1)`, status); err != nil {
		return nil, 0, fmt.Errorf("failed to count contact messages: %w", err)
	}

	limit, offset = clampPage(limit, offset)
	msgs := make([]models.ContactMessage, 0)
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM contact_messages WHERE ($1 = '' OR status = $1) ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contact messages: %w", err)
	}
	return msgs, total, nil
}

// ListByProfile returns messages sent by a signed-in profile, newest first
func (r *MessageRepository) ListByProfile(ctx context.Context, profileID string) ([]models.ContactMessage, error) {
	msgs := make([]models.ContactMessage, 0)
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM contact_messages WHERE profile_id = $1 ORDER BY created_at DESC`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile messages: %w", err)
	}
	return msgs, nil
}

// SetStatus changes a message status. from, when non-empty, must match the current status.
func (r *MessageRepository) SetStatus(ctx context.Context, id, from, to string) (*models.ContactMessage, error) {
	var m models.ContactMessage
	err := r.db.GetContext(ctx, &m, `
		UPDATE contact_messages SET status = $3, updated_at = now()
		WHERE id = $1 AND ($2 = '' OR status = $2)
		RETURNING `+messageColumns, id, from, to)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set message status: %w", err)
	}
	return &m, nil
}

// AddAdminReply stores an admin reply and marks the message answered
func (r *MessageRepository) AddAdminReply(ctx context.Context, messageID, adminID, body string) (*models.Reply, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE contact_messages SET status = 'answered', updated_at = now() WHERE id = $1`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark message answered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrMessageNotFound
	}

	reply := models.Reply{MessageID: messageID, AuthorID: &adminID, Body: body, FromAdmin: true}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO admin_replies (message_id, admin_id, body) VALUES ($1, $2, $3) RETURNING id, created_at`,
		messageID, adminID, body,
	).Scan(&reply.ID, &reply.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert admin reply: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit admin reply: %w", err)
	}
	return &reply, nil
}

// AddUserReply stores the sender's follow-up and puts the message back in the inbox.
// Closed messages take no further replies.
func (r *MessageRepository) AddUserReply(ctx context.Context, messageID, profileID, body string) (*models.Reply, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE contact_messages SET status = 'new', updated_at = now()
		WHERE id = $1 AND profile_id = $2 AND status <> 'closed'`, messageID, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrInvalidTransition
	}

	reply := models.Reply{MessageID: messageID, AuthorID: &profileID, Body: body}
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO user_replies (message_id, profile_id, body) VALUES ($1, $2, $3) RETURNING id, created_at`,
		messageID, profileID, body,
	).Scan(&reply.ID, &reply.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user reply: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user reply: %w", err)
	}
	return &reply, nil
}

// Unanswered returns messages still in status new that are older than the cutoff
func (r *MessageRepository) Unanswered(ctx context.Context, olderThan time.Time) ([]models.ContactMessage, error) {
	msgs := make([]models.ContactMessage, 0)
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM contact_messages WHERE status = 'new' AND created_at < $1 ORDER BY created_at ASC`,
		olderThan)
	if err != nil {
		return nil, fmt.Errorf("failed to list unanswered messages: %w", err)
	}
	return msgs, nil
}

// DeleteUserReplies removes every reply written by a profile
func (r *MessageRepository) DeleteUserReplies(ctx context.Context, q DBTX, profileID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM user_replies WHERE profile_id = $1`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user replies: %w", err)
	}
	return res.RowsAffected()
}

// DetachProfile keeps a profile's messages in the inbox but drops the link to it
func (r *MessageRepository) DetachProfile(ctx context.Context, q DBTX, profileID string) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE contact_messages SET profile_id = NULL WHERE profile_id = $1`, profileID)
	if err != nil {
		return 0, fmt.Errorf("failed to detach messages: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns the number of messages per status
func (r *MessageRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts, err := countRows(ctx, r.db, `SELECT status, COUNT(*) FROM contact_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	return counts, nil
}
