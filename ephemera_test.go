package ephemera_test

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alwitt/ephemera"
	"github.com/alwitt/ephemera/blobs"
	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/ephemera/store"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"
)

// TestHostEndToEnd drives notes and sections through a host built on a temporary sqlite
// database and a local blob directory, then checks a second host over the same storage
// sees the same content.
func TestHostEndToEnd(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctx := context.Background()

	// ------------------------------------------------------------------
	// 1. Storage and key material
	// ------------------------------------------------------------------
	testDB := fmt.Sprintf("/tmp/ephemera_ut_%s.db", ulid.Make().String())
	blobStore, err := blobs.NewLocalStore(t.TempDir())
	require.Nil(t, err)

	certFile, err := filepath.Abs("./test/ut_rsa.crt")
	require.Nil(t, err)
	keyFile, err := filepath.Abs("./test/ut_rsa.key")
	require.Nil(t, err)

	clock := expiry.NewManualClock(time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC))
	params := ephemera.HostParams{
		DBDialector:        db.GetSqliteDialector(testDB),
		DBLogLevel:         logger.Error,
		DefineSchema:       true,
		PrimaryRSACertFile: certFile,
		PrimaryRSAKeyFile:  keyFile,
		BcryptCost:         bcrypt.MinCost,
		RetentionTTL:       time.Hour,
		FlagTerms:          []string{"contraband"},
		Blobs:              blobStore,
		Clock:              clock,
	}

	// ------------------------------------------------------------------
	// 2. Bootstrap the host
	// ------------------------------------------------------------------
	host, err := ephemera.NewHost(ctx, params)
	require.Nil(t, err)
	defer func() { assert.Nil(host.Close()) }()

	require.Nil(t, host.Persistence.UseDatabase(
		ctx, func(ctx context.Context, dbClient db.Database) error {
			sysParams, err := dbClient.GetSystemParamEntry(ctx)
			assert.Nil(err)
			assert.Equal(models.SystemStateRunning, sysParams.State)
			return nil
		},
	))

	// ------------------------------------------------------------------
	// 3. Notes
	// ------------------------------------------------------------------
	readOnce, err := host.Notes.Create(ctx, store.CreateNoteParams{
		PlainText: []byte("carrying contraband"), Selector: "read-once",
	})
	require.Nil(t, err)
	timed, err := host.Notes.Create(ctx, store.CreateNoteParams{
		PlainText: []byte("see you in a week"), Selector: "1w", Password: "open sesame",
	})
	require.Nil(t, err)

	// ------------------------------------------------------------------
	// 4. Section
	// ------------------------------------------------------------------
	section, err := host.Sections.Create(ctx, store.CreateSectionParams{
		Title:        "trip",
		LifetimeDays: 2,
		Files: []store.UploadFile{
			{Name: "map.png", Size: 3, Content: strings.NewReader("map")},
		},
	})
	require.Nil(t, err)

	// ------------------------------------------------------------------
	// 5. A second host over the same storage serves the same content
	// ------------------------------------------------------------------
	params.DefineSchema = false
	second, err := ephemera.NewHost(ctx, params)
	require.Nil(t, err)
	defer func() { assert.Nil(second.Close()) }()
	assert.Equal(host.Box.WorkingKeyID(), second.Box.WorkingKeyID())

	outcome, err := second.Notes.View(ctx, store.ViewNoteParams{ID: readOnce.ID, Confirm: true})
	assert.Nil(err)
	assert.Equal(store.ViewOutcomeShown, outcome.Outcome)
	assert.Equal("carrying contraband", string(outcome.PlainText))

	outcome, err = host.Notes.View(ctx, store.ViewNoteParams{ID: readOnce.ID, Confirm: true})
	assert.Nil(err)
	assert.Equal(store.ViewOutcomeGone, outcome.Outcome)

	outcome, err = host.Notes.View(ctx, store.ViewNoteParams{
		ID: timed.ID, Password: func() *string { v := "open sesame"; return &v }(),
	})
	assert.Nil(err)
	assert.Equal(store.ViewOutcomeShown, outcome.Outcome)

	_, reader, err := second.Sections.OpenFile(ctx, section.Section.Slug, section.Files[0].ID)
	require.Nil(t, err)
	content, err := io.ReadAll(reader)
	assert.Nil(err)
	assert.Nil(reader.Close())
	assert.Equal("map", string(content))

	// ------------------------------------------------------------------
	// 6. Archives
	// ------------------------------------------------------------------
	copies, err := host.Retention.ListPage(ctx, store.PageQuery{})
	assert.Nil(err)
	require.Len(t, copies, 1)
	assert.Equal(readOnce.ID, copies[0].Entry.NoteID)

	flaggedNotes, err := host.Flagged.ListPage(ctx, store.PageQuery{})
	assert.Nil(err)
	require.Len(t, flaggedNotes, 1)
	assert.Equal("contraband", flaggedNotes[0].Entry.MatchedTerms)

	// ------------------------------------------------------------------
	// 7. Housekeeping after everything expired
	// ------------------------------------------------------------------
	clock.Advance(8 * expiry.Day)
	report, err := host.Reaper.RunOnce(ctx)
	assert.Nil(err)
	assert.Equal(store.SweepReport{Notes: 1, Sections: 1, Retention: 1}, report)

	_, err = second.Sections.Get(ctx, section.Section.Slug)
	assert.ErrorIs(err, store.ErrGone)
	flaggedNotes, err = second.Flagged.ListPage(ctx, store.PageQuery{})
	assert.Nil(err)
	assert.Len(flaggedNotes, 1)

	// ------------------------------------------------------------------
	// 8. The audit trail never carries note IDs
	// ------------------------------------------------------------------
	events, err := second.ListAuditEvents(ctx, db.SystemEventQueryFilter{})
	require.Nil(t, err)
	seen := map[models.SystemEventTypeENUMType]bool{}
	for _, event := range events {
		seen[event.EventType] = true
		raw := string(event.Metadata)
		assert.NotContains(raw, readOnce.ID)
		assert.NotContains(raw, timed.ID)
	}
	for _, expected := range []models.SystemEventTypeENUMType{
		models.SystemEventTypeInitializing,
		models.SystemEventTypeInitialized,
		models.SystemEventTypeNewEncryptionKey,
		models.SystemEventTypeSectionCreated,
		models.SystemEventTypeSectionDeleted,
		models.SystemEventTypeNoteFlagged,
		models.SystemEventTypeNotesPurged,
		models.SystemEventTypeRetentionPurged,
	} {
		assert.True(seen[expected], expected)
	}

	// The section's own history: created, then swept
	slug := section.Section.Slug
	events, err = host.ListAuditEvents(ctx, db.SystemEventQueryFilter{SectionSlug: &slug})
	require.Nil(t, err)
	require.Len(t, events, 2)
	assert.Equal(models.SystemEventTypeSectionCreated, events[0].EventType)
	assert.Equal(models.SystemEventTypeSectionDeleted, events[1].EventType)
}
