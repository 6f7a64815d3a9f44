package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// SystemEventQueryFilter audit event query filter conditions
type SystemEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.SystemEventTypeENUMType
	// SectionSlug only events about the section with this slug
	SectionSlug *string
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// EncryptionKeyQueryFilter encryption key query filer conditions
type EncryptionKeyQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetState the specific states to query for
	TargetState []models.EncryptionKeyStateENUMType
}

// ArchiveQueryFilter query filter shared by the note, retention and flagged listings
type ArchiveQueryFilter struct {
	CommonListEntryQueryFilter
	// IDContains case-insensitive substring of the entry's identifying field
	IDContains *string
	// OnDay only entries created or expiring on the UTC calendar day containing this
	// instant; flagged notes never expire, so only their creation day counts
	OnDay *expiry.Instant
	// ActiveAt exclude entries whose expiry is at or before this instant
	ActiveAt *expiry.Instant
	// MatchedTermsContains case-insensitive substring of the flag reason; flagged notes only
	MatchedTermsContains *string
}

// SectionQueryFilter section query filter conditions
type SectionQueryFilter struct {
	CommonListEntryQueryFilter
	// SlugContains case-insensitive substring of the slug
	SlugContains *string
	// CreatedBefore only sections created strictly before this instant
	CreatedBefore *expiry.Instant
}

// Database the database handle to interacting with the data base
type Database interface {
	// ------------------------------------------------------------------------------------
	// System audit events

	/*
		ListSystemEvents list captured system events

			@param ctx context.Context - execution context
			@param filters SystemEventQueryFilter - entry listing filter
			@return list of system events
	*/
	ListSystemEvents(
		ctx context.Context, filters SystemEventQueryFilter,
	) ([]models.SystemEventAudit, error)

	// ------------------------------------------------------------------------------------
	// System parameters

	/*
		GetSystemParamEntry fetch the global singleton system parameter entry

			@param ctx context.Context - execution context
			@returns the entry
	*/
	GetSystemParamEntry(ctx context.Context) (models.SystemParams, error)

	/*
		MarkSystemInitializing mark system is initializing

			@param ctx context.Context - execution context
	*/
	MarkSystemInitializing(ctx context.Context) error

	/*
		MarkSystemInitialized mark system fully initialized

			@param ctx context.Context - execution context
	*/
	MarkSystemInitialized(ctx context.Context) error

	// ------------------------------------------------------------------------------------
	// Encryption keys

	/*
		RecordEncryptionKey record an encrypted symmetric encryption key

			@param ctx context.Context - execution context
			@param encKeyMaterial string - encrypted key material
			@returns the key entry
	*/
	RecordEncryptionKey(ctx context.Context, encKeyMaterial []byte) (models.EncryptionKey, error)

	/*
		GetEncryptionKey fetch one encryption key

			@param ctx context.Context - execution context
			@param keyID string - the encryption key ID
			@return key entry
	*/
	GetEncryptionKey(ctx context.Context, keyID string) (models.EncryptionKey, error)

	/*
		ListEncryptionKeys list encryption keys

			@param ctx context.Context - execution context
			@param filters EncryptionKeyQueryFilter - entry listing filter
			@return list of keys
	*/
	ListEncryptionKeys(
		ctx context.Context, filters EncryptionKeyQueryFilter,
	) ([]models.EncryptionKey, error)

	// MarkEncryptionKeyActive mark encryption key is active
	MarkEncryptionKeyActive(ctx context.Context, keyID string) error

	// MarkEncryptionKeyRetired mark encryption key may only open existing values
	MarkEncryptionKeyRetired(ctx context.Context, keyID string) error

	// MarkEncryptionKeyInactive mark encryption key is inactive
	MarkEncryptionKeyInactive(ctx context.Context, keyID string) error

	/*
		DeleteEncryptionKey delete encryption key

			@param ctx context.Context - execution context
			@param keyID string - the encryption key ID
	*/
	DeleteEncryptionKey(ctx context.Context, keyID string) error

	// ------------------------------------------------------------------------------------
	// Secret notes

	/*
		CreateSecretNote persist a new secret note

			@param ctx context.Context - execution context
			@param note models.SecretNote - the note; ID and sealed value must be set
			@returns the stored note
	*/
	CreateSecretNote(ctx context.Context, note models.SecretNote) (models.SecretNote, error)

	/*
		GetSecretNote fetch a secret note by ID

			@param ctx context.Context - execution context
			@param noteID string - note ID
			@returns the note, or an error wrapping gorm.ErrRecordNotFound
	*/
	GetSecretNote(ctx context.Context, noteID string) (models.SecretNote, error)

	/*
		ListSecretNotes list secret notes, newest first

			@param ctx context.Context - execution context
			@param filters ArchiveQueryFilter - entry listing filter
			@return list of notes
	*/
	ListSecretNotes(ctx context.Context, filters ArchiveQueryFilter) ([]models.SecretNote, error)

	/*
		ConsumeSecretNote compare-and-delete a secret note

		Among any number of concurrent callers for the same note, at most one observes true.

			@param ctx context.Context - execution context
			@param noteID string - note ID
			@returns whether this call removed the note
	*/
	ConsumeSecretNote(ctx context.Context, noteID string) (bool, error)

	// DeleteSecretNote delete a secret note; deleting a missing note is not an error
	DeleteSecretNote(ctx context.Context, noteID string) error

	/*
		DeleteExpiredSecretNotes delete every note whose expiry is at or before now

			@param ctx context.Context - execution context
			@param now expiry.Instant - current instant
			@returns number of notes removed
	*/
	DeleteExpiredSecretNotes(ctx context.Context, now expiry.Instant) (int64, error)

	// ------------------------------------------------------------------------------------
	// Sections

	/*
		CreateSection persist a new section

			@param ctx context.Context - execution context
			@param section models.Section - the section
			@returns the stored section
	*/
	CreateSection(ctx context.Context, section models.Section) (models.Section, error)

	// GetSectionBySlug fetch a section by its slug
	GetSectionBySlug(ctx context.Context, slug string) (models.Section, error)

	/*
		ListSections list sections, newest first

			@param ctx context.Context - execution context
			@param filters SectionQueryFilter - entry listing filter
			@return list of sections
	*/
	ListSections(ctx context.Context, filters SectionQueryFilter) ([]models.Section, error)

	/*
		DeleteSection delete a section and its file rows

			@param ctx context.Context - execution context
			@param sectionID string - section ID
			@returns the file rows which were removed, for blob cleanup
	*/
	DeleteSection(ctx context.Context, sectionID string) ([]models.StoredFile, error)

	// ------------------------------------------------------------------------------------
	// Section files

	/*
		AddStoredFile record a file uploaded into a section

			@param ctx context.Context - execution context
			@param file models.StoredFile - the file entry
			@returns the stored entry
	*/
	AddStoredFile(ctx context.Context, file models.StoredFile) (models.StoredFile, error)

	// DeleteStoredFile remove one file entry of a section; a missing entry is not an error
	DeleteStoredFile(ctx context.Context, sectionID, fileID string) error

	// GetStoredFile fetch one file entry of a section
	GetStoredFile(ctx context.Context, sectionID, fileID string) (models.StoredFile, error)

	// ListStoredFiles list files of a section in upload order
	ListStoredFiles(ctx context.Context, sectionID string) ([]models.StoredFile, error)

	// ------------------------------------------------------------------------------------
	// Retention copies

	// CreateRetentionEntry persist a retention copy
	CreateRetentionEntry(
		ctx context.Context, entry models.RetentionEntry,
	) (models.RetentionEntry, error)

	// ListRetentionEntries list retention copies, newest first
	ListRetentionEntries(
		ctx context.Context, filters ArchiveQueryFilter,
	) ([]models.RetentionEntry, error)

	/*
		DeleteExpiredRetentionEntries delete every retention copy expired at now

			@param ctx context.Context - execution context
			@param now expiry.Instant - current instant
			@returns number of entries removed
	*/
	DeleteExpiredRetentionEntries(ctx context.Context, now expiry.Instant) (int64, error)

	// ------------------------------------------------------------------------------------
	// Flagged notes

	/*
		UpsertFlaggedNote archive a flagged note; flagging the same note again overwrites
		the sealed value and the matched terms

			@param ctx context.Context - execution context
			@param entry models.FlaggedNote - the archive entry
			@returns the stored entry
	*/
	UpsertFlaggedNote(ctx context.Context, entry models.FlaggedNote) (models.FlaggedNote, error)

	// GetFlaggedNote fetch a flagged note
	GetFlaggedNote(ctx context.Context, noteID string) (models.FlaggedNote, error)

	// ListFlaggedNotes list flagged notes, newest first
	ListFlaggedNotes(
		ctx context.Context, filters ArchiveQueryFilter,
	) ([]models.FlaggedNote, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "ephemera", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// applyPaging apply limit and offset
func applyPaging(query *gorm.DB, filters CommonListEntryQueryFilter) *gorm.DB {
	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}
	return query
}

// applyOnDay restrict to rows where any of the columns falls on one UTC calendar day
func applyOnDay(query *gorm.DB, day *expiry.Instant, columns ...string) *gorm.DB {
	if day == nil || len(columns) == 0 {
		return query
	}
	start := day.StartOfDay()
	end := start.AddDays(1)
	ranges := make([]string, 0, len(columns))
	args := make([]interface{}, 0, 2*len(columns))
	for _, column := range columns {
		ranges = append(ranges, fmt.Sprintf("(%s >= ? AND %s < ?)", column, column))
		args = append(args, start, end)
	}
	return query.Where("("+strings.Join(ranges, " OR ")+")", args...)
}

// likeEscaper escape LIKE wildcards in user provided text
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// applyContains case-insensitive substring match against one column
func applyContains(query *gorm.DB, column string, part *string) *gorm.DB {
	if part == nil || *part == "" {
		return query
	}
	pattern := "%" + likeEscaper.Replace(strings.ToLower(*part)) + "%"
	return query.Where(fmt.Sprintf(`LOWER(%s) LIKE ? ESCAPE '\'`, column), pattern)
}
