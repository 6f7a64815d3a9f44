package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/encryption"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
)

// DefaultPageSize listing page size when none is given
const DefaultPageSize = 20

// PageQuery one page of an archive listing
type PageQuery struct {
	// Page 1 based page number
	Page int `validate:"gte=0"`
	// PageSize entries per page; DefaultPageSize when zero
	PageSize int `validate:"gte=0,lte=500"`
	// IDContains case-insensitive substring of the note ID
	IDContains *string
	// OnDay only entries created or expiring on this UTC calendar day
	OnDay *expiry.Instant
	// MatchedTermsContains case-insensitive substring of the flag reason; flagged only
	MatchedTermsContains *string
}

// toFilter convert to the persistence layer filter
func (q PageQuery) toFilter() db.ArchiveQueryFilter {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size == 0 {
		size = DefaultPageSize
	}
	offset := (page - 1) * size
	return db.ArchiveQueryFilter{
		CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: &size, Offset: &offset},
		IDContains:                 q.IDContains,
		OnDay:                      q.OnDay,
		MatchedTermsContains:       q.MatchedTermsContains,
	}
}

// ArchiveParams parameters for archiving a retention copy
type ArchiveParams struct {
	// NoteID the note the copy is taken from
	NoteID string `validate:"required,uuid"`
	// Sealed the note's sealed text
	Sealed models.SealedValue
	// HadPassword whether the note was password protected
	HadPassword bool
	// TTL how long the copy is kept
	TTL time.Duration `validate:"gt=0"`
}

// RetentionView a decrypted retention copy for display
type RetentionView struct {
	Entry     models.RetentionEntry
	PlainText []byte
	// Preview short prefix of the plain text
	Preview string
	// DecryptFailed the copy could not be opened; PlainText is empty
	DecryptFailed bool
}

// RetentionStore time boxed archive of read-once note text
type RetentionStore interface {
	/*
		Archive store a retention copy of a note. Without an active transaction expired
		copies are purged first, in their own transaction; callers supplying a transaction
		call PurgeExpired before opening it, since a failed statement may abort it.

			@param ctx context.Context - execution context
			@param params ArchiveParams - archive parameters
			@param activeDBClient Database - existing database transaction
			@returns the retention entry
	*/
	Archive(
		ctx context.Context, params ArchiveParams, activeDBClient db.Database,
	) (models.RetentionEntry, error)

	/*
		PurgeExpired delete every copy whose expiry has been reached

			@param ctx context.Context - execution context
			@returns number of copies removed
	*/
	PurgeExpired(ctx context.Context) (int64, error)

	/*
		ListPage list one page of unexpired copies, decrypting only that page

			@param ctx context.Context - execution context
			@param query PageQuery - the page
			@returns the decrypted entries, newest first
	*/
	ListPage(ctx context.Context, query PageQuery) ([]RetentionView, error)
}

// retentionStoreImpl implements RetentionStore
type retentionStoreImpl struct {
	goutils.Component

	persistence db.Client
	box         CryptoBox
	clock       expiry.Clock
	validator   *validator.Validate
}

/*
NewRetentionStore define new retention store

	@param persistence db.Client - persistence layer client
	@param box CryptoBox - note text sealer
	@param clock expiry.Clock - time source
	@returns store instance
*/
func NewRetentionStore(
	persistence db.Client, box CryptoBox, clock expiry.Clock,
) RetentionStore {
	logTags := log.Fields{"package": "ephemera", "module": "store", "component": "retention-store"}
	return &retentionStoreImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		box:         box,
		clock:       clock,
		validator:   validator.New(),
	}
}

func (s *retentionStoreImpl) Archive(
	ctx context.Context, params ArchiveParams, activeDBClient db.Database,
) (models.RetentionEntry, error) {
	if err := s.validator.Struct(&params); err != nil {
		return models.RetentionEntry{}, fmt.Errorf("bad archive request: %s [%w]", err, ErrValidation)
	}

	if activeDBClient == nil {
		if _, err := s.PurgeExpired(ctx); err != nil {
			log.WithError(err).WithFields(s.GetLogTagsForContext(ctx)).Error("Retention purge failed")
		}
	}

	now := s.clock.Now()
	var entry models.RetentionEntry
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entry, err = dbClient.CreateRetentionEntry(dbCtx, models.RetentionEntry{
				ID:          ulid.Make().String(),
				NoteID:      params.NoteID,
				SealedValue: params.Sealed,
				CreatedAt:   now,
				ExpiresAt:   now.Add(params.TTL),
				HadPassword: params.HadPassword,
			})
			return err
		},
	); dbErr != nil {
		return models.RetentionEntry{}, fmt.Errorf("failed to archive retention copy [%w]", dbErr)
	}

	log.WithFields(s.GetLogTagsForContext(ctx)).
		WithField("entry-id", entry.ID).
		WithField("expires-at", entry.ExpiresAt.String()).
		Debug("Archived retention copy")
	return entry, nil
}

func (s *retentionStoreImpl) PurgeExpired(ctx context.Context) (int64, error) {
	var removed int64
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			removed, err = dbClient.DeleteExpiredRetentionEntries(dbCtx, s.clock.Now())
			return err
		},
	); dbErr != nil {
		return 0, fmt.Errorf("failed to purge expired retention copies [%w]", dbErr)
	}
	return removed, nil
}

func (s *retentionStoreImpl) ListPage(
	ctx context.Context, query PageQuery,
) ([]RetentionView, error) {
	if err := s.validator.Struct(&query); err != nil {
		return nil, fmt.Errorf("bad page query: %s [%w]", err, ErrValidation)
	}

	filter := query.toFilter()
	now := s.clock.Now()
	filter.ActiveAt = &now
	// Flag reasons only exist on flagged notes
	filter.MatchedTermsContains = nil

	var views []RetentionView
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			entries, err := dbClient.ListRetentionEntries(dbCtx, filter)
			if err != nil {
				return err
			}
			views = make([]RetentionView, 0, len(entries))
			for _, entry := range entries {
				view := RetentionView{Entry: entry}
				view.PlainText, view.DecryptFailed, err = openForDisplay(
					dbCtx, s.box, entry.SealedValue, dbClient,
				)
				if err != nil {
					return err
				}
				view.Preview = makePreview(view.PlainText)
				views = append(views, view)
			}
			return nil
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list retention copies [%w]", dbErr)
	}
	return views, nil
}

// openForDisplay decrypt a sealed value for a listing. Undecryptable values are reported
// as failed rather than failing the whole page.
func openForDisplay(
	ctx context.Context, box CryptoBox, sealed models.SealedValue, dbClient db.Database,
) ([]byte, bool, error) {
	plainText, err := box.Open(ctx, sealed, dbClient)
	if err == nil {
		return plainText, false, nil
	}
	if errors.Is(err, encryption.ErrDecrypt) {
		return nil, true, nil
	}
	return nil, false, err
}
