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
	"github.com/alwitt/ephemera/password"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ViewOutcomeENUMType result of viewing a note
type ViewOutcomeENUMType string

const (
	// ViewOutcomeGone the note is unknown, expired, or already read
	ViewOutcomeGone ViewOutcomeENUMType = "GONE"
	// ViewOutcomeNeedsConfirmation a read-once note must be explicitly confirmed before it
	// is shown and destroyed
	ViewOutcomeNeedsConfirmation ViewOutcomeENUMType = "NEEDS_CONFIRMATION"
	// ViewOutcomeWrongPassword the supplied password is missing or wrong; the note is kept
	ViewOutcomeWrongPassword ViewOutcomeENUMType = "WRONG_PASSWORD"
	// ViewOutcomeDecryptError the note could not be decrypted; the note is kept
	ViewOutcomeDecryptError ViewOutcomeENUMType = "DECRYPT_ERROR"
	// ViewOutcomeShown the note text is returned
	ViewOutcomeShown ViewOutcomeENUMType = "SHOWN"
)

// ViewOutcome result of viewing a note
type ViewOutcome struct {
	Outcome ViewOutcomeENUMType
	// HasPassword set with NEEDS_CONFIRMATION
	HasPassword bool
	// PlainText set with SHOWN
	PlainText []byte
}

// CreateNoteParams parameters for creating a note
type CreateNoteParams struct {
	// PlainText the note text
	PlainText []byte
	// Selector the lifetime selector, e.g. "read-once" or "1w"
	Selector string
	// Password optional password; blank means none
	Password string
}

// ViewNoteParams parameters for viewing a note
type ViewNoteParams struct {
	// ID the note ID
	ID string
	// Password the supplied password, if any
	Password *string
	// Confirm the caller explicitly accepts destroying a read-once note
	Confirm bool
}

// NoteStatus metadata of a live note; never includes the text
type NoteStatus struct {
	HasPassword     bool
	DeleteAfterRead bool
	ExpiresAt       expiry.NullInstant
	CreatedAt       expiry.Instant
}

// NoteSummary listing entry of a live note; never includes the text
type NoteSummary struct {
	ID string
	NoteStatus
}

// NoteManager secret note lifecycle controller
type NoteManager interface {
	/*
		Create seal and persist a new note. The plain text is not retained.

			@param ctx context.Context - execution context
			@param params CreateNoteParams - note parameters
			@returns the note entry; its ID is the access token. Malformed requests wrap
			    ErrValidation.
	*/
	Create(ctx context.Context, params CreateNoteParams) (models.SecretNote, error)

	/*
		View attempt to read a note

			@param ctx context.Context - execution context
			@param params ViewNoteParams - view parameters
			@returns the outcome. An error is only returned for infrastructure failures.
	*/
	View(ctx context.Context, params ViewNoteParams) (ViewOutcome, error)

	/*
		Status fetch the metadata of a live note without decrypting it

			@param ctx context.Context - execution context
			@param noteID string - the note ID
			@returns the note status, or ErrGone
	*/
	Status(ctx context.Context, noteID string) (NoteStatus, error)

	/*
		ListPage list one page of live notes without decrypting them

			@param ctx context.Context - execution context
			@param query PageQuery - the page; MatchedTermsContains is ignored
			@returns the notes, newest first
	*/
	ListPage(ctx context.Context, query PageQuery) ([]NoteSummary, error)

	/*
		Sweep delete every note whose expiry has been reached

			@param ctx context.Context - execution context
			@returns number of notes removed
	*/
	Sweep(ctx context.Context) (int64, error)
}

// NoteManagerParams note manager dependencies
type NoteManagerParams struct {
	Persistence db.Client
	Box         CryptoBox
	Gate        password.Gate
	Clock       expiry.Clock
	// Retention optional; receives a copy of each read-once note as it is destroyed
	Retention RetentionStore
	// RetentionTTL lifetime of retention copies; zero disables retention
	RetentionTTL time.Duration
	// Flagged optional; receives notes matched by Policy
	Flagged FlaggedStore
	// Policy optional content policy evaluated on create
	Policy ContentPolicy
}

// noteManagerImpl implements NoteManager
type noteManagerImpl struct {
	goutils.Component
	NoteManagerParams
	validator *validator.Validate
}

/*
NewNoteManager define new note manager

	@param params NoteManagerParams - manager dependencies
	@returns manager instance
*/
func NewNoteManager(params NoteManagerParams) (NoteManager, error) {
	if params.Persistence == nil || params.Box == nil || params.Gate == nil || params.Clock == nil {
		return nil, fmt.Errorf("note manager is missing a required dependency")
	}
	if params.RetentionTTL < 0 {
		return nil, fmt.Errorf("negative retention TTL %s", params.RetentionTTL)
	}
	logTags := log.Fields{"package": "ephemera", "module": "store", "component": "note-manager"}
	return &noteManagerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		NoteManagerParams: params,
		validator:         validator.New(),
	}, nil
}

// retaining whether read-once notes get retention copies
func (m *noteManagerImpl) retaining() bool {
	return m.Retention != nil && m.RetentionTTL > 0
}

func (m *noteManagerImpl) Create(
	ctx context.Context, params CreateNoteParams,
) (models.SecretNote, error) {
	logTags := m.GetLogTagsForContext(ctx)

	if _, err := m.Sweep(ctx); err != nil {
		log.WithError(err).WithFields(logTags).Error("Opportunistic note sweep failed")
	}

	if len(params.PlainText) == 0 {
		return models.SecretNote{}, fmt.Errorf("note text is empty [%w]", ErrValidation)
	}
	selector, err := expiry.ParseSelector(params.Selector)
	if err != nil {
		return models.SecretNote{}, fmt.Errorf("%s [%w]", err.Error(), ErrValidation)
	}

	now := m.Clock.Now()
	resolved, err := expiry.Resolve(selector, now)
	if err != nil {
		return models.SecretNote{}, fmt.Errorf("failed to resolve note expiry [%w]", err)
	}

	note := models.SecretNote{
		ID:              uuid.NewString(),
		DeleteAfterRead: resolved.DeleteAfterRead,
		ExpiresAt:       resolved.ExpiresAt,
		CreatedAt:       now,
	}
	if params.Password != "" {
		hash, err := m.Gate.Hash(params.Password)
		if err != nil {
			if errors.Is(err, password.ErrInvalidPassword) {
				return models.SecretNote{}, fmt.Errorf("%s [%w]", err.Error(), ErrValidation)
			}
			return models.SecretNote{}, fmt.Errorf("failed to hash note password [%w]", err)
		}
		note.HasPassword = true
		note.PasswordHash = &hash
	}

	var matched []string
	if m.Policy != nil && m.Flagged != nil {
		matched = m.Policy.Match(params.PlainText)
	}

	if dbErr := m.Persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			note.SealedValue, err = m.Box.Seal(dbCtx, params.PlainText, dbClient)
			if err != nil {
				return err
			}
			note, err = dbClient.CreateSecretNote(dbCtx, note)
			if err != nil {
				return err
			}
			if len(matched) > 0 {
				if _, err := m.Flagged.Flag(dbCtx, note.ID, note.SealedValue, matched, dbClient); err != nil {
					return err
				}
			}
			return nil
		},
	); dbErr != nil {
		return models.SecretNote{}, fmt.Errorf("failed to create secret note [%w]", dbErr)
	}

	log.WithFields(logTags).
		WithField("selector", selector).
		WithField("password", note.HasPassword).
		WithField("flagged", len(matched) > 0).
		Info("Created secret note")
	return note, nil
}

// loadNote fetch a note, applying lazy expiry. ErrGone when unknown or expired.
func (m *noteManagerImpl) loadNote(ctx context.Context, noteID string) (models.SecretNote, error) {
	if m.validator.Var(noteID, "required,uuid") != nil {
		return models.SecretNote{}, ErrGone
	}

	var note models.SecretNote
	if dbErr := m.Persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			note, err = dbClient.GetSecretNote(dbCtx, noteID)
			return err
		},
	); dbErr != nil {
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return models.SecretNote{}, ErrGone
		}
		return models.SecretNote{}, fmt.Errorf("failed to load secret note [%w]", dbErr)
	}

	if note.IsExpired(m.Clock.Now()) {
		if dbErr := m.Persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				return dbClient.DeleteSecretNote(dbCtx, noteID)
			},
		); dbErr != nil {
			return models.SecretNote{}, fmt.Errorf("failed to delete expired secret note [%w]", dbErr)
		}
		log.WithFields(m.GetLogTagsForContext(ctx)).Debug("Deleted expired secret note on access")
		return models.SecretNote{}, ErrGone
	}

	return note, nil
}

func (m *noteManagerImpl) View(ctx context.Context, params ViewNoteParams) (ViewOutcome, error) {
	logTags := m.GetLogTagsForContext(ctx)

	note, err := m.loadNote(ctx, params.ID)
	if err != nil {
		if errors.Is(err, ErrGone) {
			return ViewOutcome{Outcome: ViewOutcomeGone}, nil
		}
		return ViewOutcome{}, err
	}

	if note.DeleteAfterRead && !params.Confirm {
		return ViewOutcome{Outcome: ViewOutcomeNeedsConfirmation, HasPassword: note.HasPassword}, nil
	}

	if note.HasPassword {
		if params.Password == nil || note.PasswordHash == nil ||
			!m.Gate.Verify(*params.Password, *note.PasswordHash) {
			return ViewOutcome{Outcome: ViewOutcomeWrongPassword}, nil
		}
	}

	plainText, err := m.Box.Open(ctx, note.SealedValue, nil)
	if err != nil {
		if errors.Is(err, encryption.ErrDecrypt) {
			log.WithError(err).WithFields(logTags).Warn("Secret note could not be decrypted")
			return ViewOutcome{Outcome: ViewOutcomeDecryptError}, nil
		}
		return ViewOutcome{}, fmt.Errorf("failed to open secret note [%w]", err)
	}

	if !note.DeleteAfterRead {
		return ViewOutcome{Outcome: ViewOutcomeShown, PlainText: plainText}, nil
	}

	if m.retaining() {
		// Kept out of the consume transaction so a purge failure can't abort it
		if _, err := m.Retention.PurgeExpired(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Retention purge before consume failed")
		}
	}

	// Only the viewer whose delete removes the row may see the text
	won := false
	if dbErr := m.Persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			won, err = dbClient.ConsumeSecretNote(dbCtx, note.ID)
			if err != nil || !won {
				return err
			}
			if m.retaining() {
				_, err = m.Retention.Archive(dbCtx, ArchiveParams{
					NoteID:      note.ID,
					Sealed:      note.SealedValue,
					HadPassword: note.HasPassword,
					TTL:         m.RetentionTTL,
				}, dbClient)
			}
			return err
		},
	); dbErr != nil {
		clear(plainText)
		return ViewOutcome{}, fmt.Errorf("failed to consume read-once note [%w]", dbErr)
	}
	if !won {
		clear(plainText)
		return ViewOutcome{Outcome: ViewOutcomeGone}, nil
	}

	log.WithFields(logTags).WithField("retained", m.retaining()).Info("Read-once note consumed")
	return ViewOutcome{Outcome: ViewOutcomeShown, PlainText: plainText}, nil
}

func (m *noteManagerImpl) Status(ctx context.Context, noteID string) (NoteStatus, error) {
	note, err := m.loadNote(ctx, noteID)
	if err != nil {
		return NoteStatus{}, err
	}
	return NoteStatus{
		HasPassword:     note.HasPassword,
		DeleteAfterRead: note.DeleteAfterRead,
		ExpiresAt:       note.ExpiresAt,
		CreatedAt:       note.CreatedAt,
	}, nil
}

func (m *noteManagerImpl) ListPage(ctx context.Context, query PageQuery) ([]NoteSummary, error) {
	if err := m.validator.Struct(&query); err != nil {
		return nil, fmt.Errorf("bad page query: %s [%w]", err, ErrValidation)
	}

	filter := query.toFilter()
	now := m.Clock.Now()
	filter.ActiveAt = &now
	filter.MatchedTermsContains = nil

	var summaries []NoteSummary
	if dbErr := m.Persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			notes, err := dbClient.ListSecretNotes(dbCtx, filter)
			if err != nil {
				return err
			}
			summaries = make([]NoteSummary, 0, len(notes))
			for _, note := range notes {
				summaries = append(summaries, NoteSummary{
					ID: note.ID,
					NoteStatus: NoteStatus{
						HasPassword:     note.HasPassword,
						DeleteAfterRead: note.DeleteAfterRead,
						ExpiresAt:       note.ExpiresAt,
						CreatedAt:       note.CreatedAt,
					},
				})
			}
			return nil
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list secret notes [%w]", dbErr)
	}
	return summaries, nil
}

func (m *noteManagerImpl) Sweep(ctx context.Context) (int64, error) {
	var removed int64
	if dbErr := m.Persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			removed, err = dbClient.DeleteExpiredSecretNotes(dbCtx, m.Clock.Now())
			return err
		},
	); dbErr != nil {
		return 0, fmt.Errorf("failed to sweep expired secret notes [%w]", dbErr)
	}
	return removed, nil
}
