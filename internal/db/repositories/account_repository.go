// account_repository.go implements AccountRepository: lookups of authentication
// identities by email, phone hash and OIDC subject, plus creation and deletion.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bandyab/bandyab/internal/db/models"
	"github.com/jmoiron/sqlx"
)

const accountColumns = `id, email, phone_encrypted, phone_hash, password_hash, oidc_subject,
		       created_at, updated_at, last_sign_in_at`

// AccountRepository handles account database operations
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new AccountRepository
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account and fills in its generated id and timestamps
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (email, phone_encrypted, phone_hash, password_hash, oidc_subject)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		a.Email,
		a.PhoneEncrypted,
		a.PhoneHash,
		a.PasswordHash,
		a.OIDCSubject,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) getBy(ctx context.Context, column, value string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + column + ` = $1`

	var a models.Account
	err := r.db.GetContext(ctx, &a, query, value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account by %s: %w", column, err)
	}
	return &a, nil
}

// GetByID retrieves an account by id
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.getBy(ctx, "id", id)
}

// GetByEmail retrieves an account by lower-cased email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.getBy(ctx, "email", email)
}

// GetByPhoneHash retrieves an account by the HMAC of its phone number
func (r *AccountRepository) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.Account, error) {
	return r.getBy(ctx, "phone_hash", phoneHash)
}

// GetByOIDCSubject retrieves an account by OIDC subject
func (r *AccountRepository) GetByOIDCSubject(ctx context.Context, sub string) (*models.Account, error) {
	return r.getBy(ctx, "oidc_subject", sub)
}

// GetOrCreateByOIDC finds the account for an OIDC subject. When none exists it links
// an account with the same email, or creates a new one. created reports a new row.
func (r *AccountRepository) GetOrCreateByOIDC(ctx context.Context, sub, email string) (acc *models.Account, created bool, err error) {
	acc, err = r.GetByOIDCSubject(ctx, sub)
	if err != nil || acc != nil {
		return acc, false, err
	}

	if email != "" {
		acc, err = r.GetByEmail(ctx, email)
		if err != nil {
			return nil, false, err
		}
		if acc != nil {
			if _, err := r.db.ExecContext(ctx,
				`UPDATE accounts SET oidc_subject = $2, updated_at = now() WHERE id = $1`, acc.ID, sub); err != nil {
				return nil, false, fmt.Errorf("failed to link oidc subject: %w", err)
			}
			acc.OIDCSubject = &sub
			return acc, false, nil
		}
	}

	acc = &models.Account{OIDCSubject: &sub}
	if email != "" {
		acc.Email = &email
	}
	if err := r.Create(ctx, acc); err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// SetPhone attaches an encrypted phone number to an account
func (r *AccountRepository) SetPhone(ctx context.Context, id, phoneEncrypted, phoneHash string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET phone_encrypted = $2, phone_hash = $3, updated_at = now() WHERE id = $1`,
		id, phoneEncrypted, phoneHash)
	if err != nil {
		return fmt.Errorf("failed to set phone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchSignIn records a successful sign-in
func (r *AccountRepository) TouchSignIn(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET last_sign_in_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to update last sign-in: %w", err)
	}
	return nil
}

// Delete removes the account row. It must run after every row referencing the account is gone.
func (r *AccountRepository) Delete(ctx context.Context, q DBTX, id string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account: %w", err)
	}
	return res.RowsAffected()
}
