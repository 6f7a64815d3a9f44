package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm/clause"
)

// ======================================================================================
// Retention copies

/*
CreateRetentionEntry persist a retention copy

	@param ctx context.Context - execution context
	@param entry models.RetentionEntry - the entry; a ULID is assigned when ID is empty
	@returns the stored entry
*/
func (d *databaseImpl) CreateRetentionEntry(
	_ context.Context, entry models.RetentionEntry,
) (models.RetentionEntry, error) {
	newEntry := RetentionEntryDBEntry{RetentionEntry: entry}
	if newEntry.ID == "" {
		newEntry.ID = ulid.Make().String()
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.RetentionEntry{}, fmt.Errorf("new retention entry is not valid [%w]", err)
	}
	if newEntry.CreatedAt.IsZero() || newEntry.ExpiresAt.IsZero() {
		return models.RetentionEntry{}, fmt.Errorf(
			"new retention entry lacks its instants [%w]", expiry.ErrInvalidInstant,
		)
	}
	if !newEntry.CreatedAt.Before(newEntry.ExpiresAt) {
		return models.RetentionEntry{}, fmt.Errorf(
			"new retention entry expires %s before creation %s",
			newEntry.ExpiresAt, newEntry.CreatedAt,
		)
	}

	if tmp := d.db.Omit("EncKey").Create(&newEntry); tmp.Error != nil {
		return models.RetentionEntry{}, fmt.Errorf(
			"new retention entry insert failed [%w]", tmp.Error,
		)
	}

	return newEntry.RetentionEntry, nil
}

/*
ListRetentionEntries list retention copies, newest first

	@param ctx context.Context - execution context
	@param filters ArchiveQueryFilter - entry listing filter; IDContains matches the note ID
	@return list of entries
*/
func (d *databaseImpl) ListRetentionEntries(
	_ context.Context, filters ArchiveQueryFilter,
) ([]models.RetentionEntry, error) {
	query := d.db.Model(&RetentionEntryDBEntry{})

	query = applyContains(query, "note_id", filters.IDContains)
	query = applyOnDay(query, filters.OnDay, "created_at", "expires_at")
	if filters.ActiveAt != nil {
		query = query.Where("expires_at > ?", *filters.ActiveAt)
	}
	query = applyPaging(query, filters.CommonListEntryQueryFilter).
		Order("created_at desc").
		Order("id desc")

	var entries []RetentionEntryDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list retention entries [%w]", tmp.Error)
	}

	result := []models.RetentionEntry{}
	for _, entry := range entries {
		result = append(result, entry.RetentionEntry)
	}
	return result, nil
}

/*
DeleteExpiredRetentionEntries delete every retention copy expired at now

	@param ctx context.Context - execution context
	@param now expiry.Instant - current instant
	@returns number of entries removed
*/
func (d *databaseImpl) DeleteExpiredRetentionEntries(
	ctx context.Context, now expiry.Instant,
) (int64, error) {
	tmp := d.db.Where("expires_at <= ?", now).Delete(&RetentionEntryDBEntry{})
	if tmp.Error != nil {
		return 0, fmt.Errorf("expired retention entry purge failed [%w]", tmp.Error)
	}

	if tmp.RowsAffected > 0 {
		if _, err := d.defineNewSystemEvent(
			models.SystemEventTypeRetentionPurged,
			models.SystemEventPurgeRelated{Purged: tmp.RowsAffected},
		); err != nil {
			return 0, fmt.Errorf("failed to log retention purge audit event [%w]", err)
		}
		log.WithFields(d.GetLogTagsForContext(ctx)).
			WithField("purged", tmp.RowsAffected).
			Debug("Purged expired retention entries")
	}

	return tmp.RowsAffected, nil
}

// ======================================================================================
// Flagged notes

/*
UpsertFlaggedNote archive a flagged note

	@param ctx context.Context - execution context
	@param entry models.FlaggedNote - the archive entry
	@returns the stored entry
*/
func (d *databaseImpl) UpsertFlaggedNote(
	ctx context.Context, entry models.FlaggedNote,
) (models.FlaggedNote, error) {
	newEntry := FlaggedNoteDBEntry{FlaggedNote: entry}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.FlaggedNote{}, fmt.Errorf("flagged note entry is not valid [%w]", err)
	}
	if newEntry.CreatedAt.IsZero() {
		return models.FlaggedNote{}, fmt.Errorf(
			"flagged note entry has no creation instant [%w]", expiry.ErrInvalidInstant,
		)
	}

	// Re-flagging keeps the original creation instant
	if tmp := d.db.Omit("EncKey").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "note_id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"enc_key_id", "enc_value", "enc_nonce", "matched_terms"},
		),
	}).Create(&newEntry); tmp.Error != nil {
		return models.FlaggedNote{}, fmt.Errorf("flagged note upsert failed [%w]", tmp.Error)
	}

	if _, err := d.defineNewSystemEvent(
		models.SystemEventTypeNoteFlagged,
		models.SystemEventFlagRelated{TermCount: len(strings.Split(entry.MatchedTerms, ","))},
	); err != nil {
		return models.FlaggedNote{}, fmt.Errorf("failed to log note flagged audit event [%w]", err)
	}

	return d.GetFlaggedNote(ctx, entry.NoteID)
}

// GetFlaggedNote fetch a flagged note
func (d *databaseImpl) GetFlaggedNote(
	_ context.Context, noteID string,
) (models.FlaggedNote, error) {
	var entry FlaggedNoteDBEntry
	if tmp := d.db.Where("note_id = ?", noteID).First(&entry); tmp.Error != nil {
		return models.FlaggedNote{}, fmt.Errorf("failed to fetch flagged note [%w]", tmp.Error)
	}
	return entry.FlaggedNote, nil
}

/*
ListFlaggedNotes list flagged notes, newest first

	@param ctx context.Context - execution context
	@param filters ArchiveQueryFilter - entry listing filter; IDContains matches the note ID
	@return list of entries
*/
func (d *databaseImpl) ListFlaggedNotes(
	_ context.Context, filters ArchiveQueryFilter,
) ([]models.FlaggedNote, error) {
	query := d.db.Model(&FlaggedNoteDBEntry{})

	query = applyContains(query, "note_id", filters.IDContains)
	query = applyContains(query, "matched_terms", filters.MatchedTermsContains)
	query = applyOnDay(query, filters.OnDay, "created_at")
	query = applyPaging(query, filters.CommonListEntryQueryFilter).
		Order("created_at desc").
		Order("note_id")

	var entries []FlaggedNoteDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list flagged notes [%w]", tmp.Error)
	}

	result := []models.FlaggedNote{}
	for _, entry := range entries {
		result = append(result, entry.FlaggedNote)
	}
	return result, nil
}
