package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// FlaggedView a decrypted flagged note for display
type FlaggedView struct {
	Entry     models.FlaggedNote
	PlainText []byte
	// Preview short prefix of the plain text
	Preview string
	// DecryptFailed the note could not be opened; PlainText is empty
	DecryptFailed bool
}

// FlaggedStore permanent moderation archive of notes matched by a content policy
type FlaggedStore interface {
	/*
		Flag archive a note. Flagging the same note again replaces the stored copy.

			@param ctx context.Context - execution context
			@param noteID string - the note ID
			@param sealed models.SealedValue - the note's sealed text
			@param matchedTerms []string - the policy terms the note matched
			@param activeDBClient Database - existing database transaction
			@returns the archive entry
	*/
	Flag(
		ctx context.Context,
		noteID string,
		sealed models.SealedValue,
		matchedTerms []string,
		activeDBClient db.Database,
	) (models.FlaggedNote, error)

	/*
		ListPage list one page of flagged notes, decrypting only that page

			@param ctx context.Context - execution context
			@param query PageQuery - the page
			@returns the decrypted entries, newest first
	*/
	ListPage(ctx context.Context, query PageQuery) ([]FlaggedView, error)
}

// flaggedStoreImpl implements FlaggedStore
type flaggedStoreImpl struct {
	goutils.Component

	persistence db.Client
	box         CryptoBox
	clock       expiry.Clock
	validator   *validator.Validate
}

/*
NewFlaggedStore define new flagged note store

	@param persistence db.Client - persistence layer client
	@param box CryptoBox - note text sealer
	@param clock expiry.Clock - time source
	@returns store instance
*/
func NewFlaggedStore(persistence db.Client, box CryptoBox, clock expiry.Clock) FlaggedStore {
	logTags := log.Fields{"package": "ephemera", "module": "store", "component": "flagged-store"}
	return &flaggedStoreImpl{
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

func (s *flaggedStoreImpl) Flag(
	ctx context.Context,
	noteID string,
	sealed models.SealedValue,
	matchedTerms []string,
	activeDBClient db.Database,
) (models.FlaggedNote, error) {
	reason := describeMatches(matchedTerms, models.MaxMatchedTermsLength)
	if strings.TrimSpace(reason) == "" {
		return models.FlaggedNote{}, fmt.Errorf("flagging requires matched terms [%w]", ErrValidation)
	}
	if err := s.validator.Var(noteID, "required,uuid"); err != nil {
		return models.FlaggedNote{}, fmt.Errorf("bad note ID [%w]", ErrValidation)
	}

	var entry models.FlaggedNote
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			entry, err = dbClient.UpsertFlaggedNote(dbCtx, models.FlaggedNote{
				NoteID:       noteID,
				SealedValue:  sealed,
				MatchedTerms: reason,
				CreatedAt:    s.clock.Now(),
			})
			return err
		},
	); dbErr != nil {
		return models.FlaggedNote{}, fmt.Errorf("failed to flag note [%w]", dbErr)
	}

	log.WithFields(s.GetLogTagsForContext(ctx)).
		WithField("terms", len(matchedTerms)).
		Info("Flagged note for moderation")
	return entry, nil
}

func (s *flaggedStoreImpl) ListPage(ctx context.Context, query PageQuery) ([]FlaggedView, error) {
	if err := s.validator.Struct(&query); err != nil {
		return nil, fmt.Errorf("bad page query: %s [%w]", err, ErrValidation)
	}

	var views []FlaggedView
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			entries, err := dbClient.ListFlaggedNotes(dbCtx, query.toFilter())
			if err != nil {
				return err
			}
			views = make([]FlaggedView, 0, len(entries))
			for _, entry := range entries {
				view := FlaggedView{Entry: entry}
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
		return nil, fmt.Errorf("failed to list flagged notes [%w]", dbErr)
	}
	return views, nil
}
