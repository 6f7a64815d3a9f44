package db

import (
	"context"
	"fmt"

	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/apex/log"
)

/*
CreateSecretNote persist a new secret note

	@param ctx context.Context - execution context
	@param note models.SecretNote - the note; ID and sealed value must be set
	@returns the stored note
*/
func (d *databaseImpl) CreateSecretNote(
	ctx context.Context, note models.SecretNote,
) (models.SecretNote, error) {
	newEntry := SecretNoteDBEntry{SecretNote: note}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.SecretNote{}, fmt.Errorf("new secret note is not valid [%w]", err)
	}
	if err := newEntry.ValidatePasswordInvariant(); err != nil {
		return models.SecretNote{}, fmt.Errorf("new secret note is not valid [%w]", err)
	}
	if newEntry.CreatedAt.IsZero() {
		return models.SecretNote{}, fmt.Errorf(
			"new secret note has no creation instant [%w]", expiry.ErrInvalidInstant,
		)
	}

	if tmp := d.db.Omit("EncKey").Create(&newEntry); tmp.Error != nil {
		return models.SecretNote{}, fmt.Errorf("new secret note insert failed [%w]", tmp.Error)
	}

	log.WithFields(d.GetLogTagsForContext(ctx)).
		WithField("delete_after_read", newEntry.DeleteAfterRead).
		WithField("has_password", newEntry.HasPassword).
		Debug("Stored new secret note")

	return newEntry.SecretNote, nil
}

/*
GetSecretNote fetch a secret note by ID

	@param ctx context.Context - execution context
	@param noteID string - note ID
	@returns the note
*/
func (d *databaseImpl) GetSecretNote(_ context.Context, noteID string) (models.SecretNote, error) {
	var entry SecretNoteDBEntry
	if tmp := d.db.Where("id = ?", noteID).First(&entry); tmp.Error != nil {
		// The note ID is an access token, so keep it out of the error text
		return models.SecretNote{}, fmt.Errorf("failed to fetch secret note [%w]", tmp.Error)
	}
	return entry.SecretNote, nil
}

/*
ListSecretNotes list secret notes, newest first

	@param ctx context.Context - execution context
	@param filters ArchiveQueryFilter - entry listing filter
	@return list of notes
*/
func (d *databaseImpl) ListSecretNotes(
	_ context.Context, filters ArchiveQueryFilter,
) ([]models.SecretNote, error) {
	query := d.db.Model(&SecretNoteDBEntry{})

	query = applyContains(query, "id", filters.IDContains)
	query = applyOnDay(query, filters.OnDay, "created_at", "expires_at")
	if filters.ActiveAt != nil {
		query = query.Where("(expires_at IS NULL OR expires_at > ?)", *filters.ActiveAt)
	}
	query = applyPaging(query, filters.CommonListEntryQueryFilter).
		Order("created_at desc").
		Order("id")

	var entries []SecretNoteDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list secret notes [%w]", tmp.Error)
	}

	result := []models.SecretNote{}
	for _, entry := range entries {
		result = append(result, entry.SecretNote)
	}
	return result, nil
}

/*
ConsumeSecretNote compare-and-delete a secret note

	@param ctx context.Context - execution context
	@param noteID string - note ID
	@returns whether this call removed the note
*/
func (d *databaseImpl) ConsumeSecretNote(_ context.Context, noteID string) (bool, error) {
	tmp := d.db.Where("id = ?", noteID).Delete(&SecretNoteDBEntry{})
	if tmp.Error != nil {
		return false, fmt.Errorf("secret note consume failed [%w]", tmp.Error)
	}
	return tmp.RowsAffected == 1, nil
}

// DeleteSecretNote delete a secret note; deleting a missing note is not an error
func (d *databaseImpl) DeleteSecretNote(ctx context.Context, noteID string) error {
	_, err := d.ConsumeSecretNote(ctx, noteID)
	return err
}

/*
DeleteExpiredSecretNotes delete every note whose expiry is at or before now

	@param ctx context.Context - execution context
	@param now expiry.Instant - current instant
	@returns number of notes removed
*/
func (d *databaseImpl) DeleteExpiredSecretNotes(
	ctx context.Context, now expiry.Instant,
) (int64, error) {
	tmp := d.db.
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Delete(&SecretNoteDBEntry{})
	if tmp.Error != nil {
		return 0, fmt.Errorf("expired secret note purge failed [%w]", tmp.Error)
	}

	if tmp.RowsAffected > 0 {
		if _, err := d.defineNewSystemEvent(
			models.SystemEventTypeNotesPurged,
			models.SystemEventPurgeRelated{Purged: tmp.RowsAffected},
		); err != nil {
			return 0, fmt.Errorf("failed to log note purge audit event [%w]", err)
		}
		log.WithFields(d.GetLogTagsForContext(ctx)).
			WithField("purged", tmp.RowsAffected).
			Debug("Purged expired secret notes")
	}

	return tmp.RowsAffected, nil
}
