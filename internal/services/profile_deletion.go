package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/bandyab/bandyab/internal/db"
	"github.com/bandyab/bandyab/internal/db/repositories"
	"github.com/bandyab/bandyab/internal/domain"
	"github.com/bandyab/bandyab/internal/realtime"
	"github.com/bandyab/bandyab/internal/storage"
	"github.com/bandyab/bandyab/internal/telemetry"
)

// DeletionReport summarises a profile deletion
type DeletionReport struct {
	ProfileID       string           `json:"profile_id"`
	Rows            map[string]int64 `json:"rows"`
	StorageRemoved  int              `json:"storage_removed"`
	StorageFailures []string         `json:"storage_failures,omitempty"`
}

// ProfileDeletionService removes a profile and everything hanging off it
type ProfileDeletionService struct {
	tx       *db.TxManager
	accounts *repositories.AccountRepository
	profiles *repositories.ProfileRepository
	bands    *repositories.MembershipRepository
	schools  *repositories.MembershipRepository
	events   *repositories.EventRepository
	messages *repositories.MessageRepository
	blog     *repositories.BlogRepository
	store    storage.Storage
	notifier Notifier
}

// ProfileDeletionDeps groups the dependencies of ProfileDeletionService
type ProfileDeletionDeps struct {
	Tx       *db.TxManager
	Accounts *repositories.AccountRepository
	Profiles *repositories.ProfileRepository
	Bands    *repositories.MembershipRepository
	Schools  *repositories.MembershipRepository
	Events   *repositories.EventRepository
	Messages *repositories.MessageRepository
	Blog     *repositories.BlogRepository
	Storage  storage.Storage
	Notifier Notifier
}

// NewProfileDeletionService creates the service
func NewProfileDeletionService(d ProfileDeletionDeps) *ProfileDeletionService {
	n := d.Notifier
	if n == nil {
		n = nopNotifier{}
	}
	return &ProfileDeletionService{
		tx:       d.Tx,
		accounts: d.Accounts,
		profiles: d.Profiles,
		bands:    d.Bands,
		schools:  d.Schools,
		events:   d.Events,
		messages: d.Messages,
		blog:     d.Blog,
		store:    d.Storage,
		notifier: n,
	}
}

type deleteStep struct {
	name string
	run  func(ctx context.Context, q repositories.DBTX, id string) (int64, error)
}

// Delete removes the profile's rows and account in one transaction, then its stored
// objects. Storage failures do not fail the call; they are listed in the report.
func (s *ProfileDeletionService) Delete(ctx context.Context, actor Actor, profileID string) (report *DeletionReport, err error) {
	initiator := "self"
	if actor.ProfileID != profileID {
		if !actor.Admin {
			return nil, domain.ErrForbidden
		}
		initiator = "admin"
	}
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		telemetry.ProfileDeletionsTotal.WithLabelValues(initiator, result).Inc()
	}()

	report = &DeletionReport{ProfileID: profileID, Rows: make(map[string]int64)}

	// Rows are removed children first; the account goes last.
	steps := []deleteStep{
		{"profile_instruments", s.profiles.DeleteInstruments},
		{"profile_gallery", s.profiles.DeleteGallery},
		{"band_members", s.bands.DeleteForProfile},
		{"school_teachers", s.schools.DeleteForProfile},
		{"events", s.events.DeleteForProfile},
		{"user_replies", s.messages.DeleteUserReplies},
		{"contact_messages_detached", s.messages.DetachProfile},
		{"blog_posts_detached", s.blog.DetachAuthor},
		{"profiles", s.profiles.Delete},
		{"accounts", s.accounts.Delete},
	}

	var keys []string
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		owned, err := s.profiles.StorageKeys(ctx, tx, profileID)
		if err != nil {
			return err
		}
		posters, err := s.events.PosterKeys(ctx, tx, profileID)
		if err != nil {
			return err
		}
		keys = append(owned, posters...)

		for _, step := range steps {
			n, err := step.run(ctx, tx, profileID)
			if err != nil {
				return fmt.Errorf("%s: %w", step.name, err)
			}
			report.Rows[step.name] = n
		}
		if report.Rows["accounts"] == 0 {
			return domain.ErrProfileNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prefixes := make([]string, 0, len(storage.ProfileBuckets))
	for _, bucket := range storage.ProfileBuckets {
		prefixes = append(prefixes, storage.OwnerPrefix(bucket, profileID))
	}
	cleanup := storage.Cleanup(ctx, s.store, "profile_delete", prefixes, keys)
	report.StorageRemoved = cleanup.Removed
	report.StorageFailures = cleanup.Failed

	slog.Info("profile deleted",
		"profile_id", profileID,
		"initiator", initiator,
		"rows", report.Rows,
		"storage_removed", report.StorageRemoved,
		"storage_failures", len(report.StorageFailures))

	s.notifier.Refresh("profiles", profileID, realtime.ProfileTopic(profileID), realtime.TopicAdmin)
	return report, nil
}
