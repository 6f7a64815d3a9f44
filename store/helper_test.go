package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alwitt/ephemera/blobs"
	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/encryption"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/password"
	"github.com/alwitt/ephemera/store"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/logger"
)

// testEnv stores over a fresh sqlite database
type testEnv struct {
	dbClient db.Client
	engine   encryption.CryptographyEngine
	box      store.CryptoBox
	gate     password.Gate
	clock    *expiry.ManualClock
	blobRoot string
	blobs    blobs.BlobStore
}

var testStart = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	testDB := fmt.Sprintf("/tmp/ephemera_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	dbClient, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	require.Nil(t, err)
	require.Nil(t, dbClient.RunSQLInTransaction(context.Background(), db.DefineTables))
	t.Cleanup(func() { _ = dbClient.Close() })

	testCertFile, err := filepath.Abs("../test/ut_rsa.crt")
	require.Nil(t, err)
	testKeyFile, err := filepath.Abs("../test/ut_rsa.key")
	require.Nil(t, err)
	engine, err := encryption.NewCryptographyEngine(
		context.Background(), encryption.CryptographyEngineParams{
			Persistence:        dbClient,
			PrimaryRSACertFile: testCertFile,
			PrimaryRSAKeyFile:  testKeyFile,
		},
	)
	require.Nil(t, err)

	box, err := store.NewCryptoBox(context.Background(), dbClient, engine)
	require.Nil(t, err)

	gate, err := password.NewBcryptGate(bcrypt.MinCost)
	require.Nil(t, err)

	blobRoot := t.TempDir()
	blobStore, err := blobs.NewLocalStore(blobRoot)
	require.Nil(t, err)

	return &testEnv{
		dbClient: dbClient,
		engine:   engine,
		box:      box,
		gate:     gate,
		clock:    expiry.NewManualClock(testStart),
		blobRoot: blobRoot,
		blobs:    blobStore,
	}
}

// noteManager note manager with retention and flagging wired
func (e *testEnv) noteManager(
	t *testing.T, retentionTTL time.Duration, flagTerms ...string,
) (store.NoteManager, store.RetentionStore, store.FlaggedStore) {
	retention := store.NewRetentionStore(e.dbClient, e.box, e.clock)
	flagged := store.NewFlaggedStore(e.dbClient, e.box, e.clock)
	params := store.NoteManagerParams{
		Persistence:  e.dbClient,
		Box:          e.box,
		Gate:         e.gate,
		Clock:        e.clock,
		Retention:    retention,
		RetentionTTL: retentionTTL,
		Flagged:      flagged,
	}
	if len(flagTerms) > 0 {
		params.Policy = store.NewTermPolicy(flagTerms)
	}
	uut, err := store.NewNoteManager(params)
	require.Nil(t, err)
	return uut, retention, flagged
}

func strPtr(v string) *string {
	return &v
}
