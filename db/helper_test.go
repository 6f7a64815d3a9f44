package db_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/alwitt/ephemera/db"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// newTestClient connect to a fresh sqlite database with all tables defined
func newTestClient(t *testing.T) db.Client {
	testDB := fmt.Sprintf("/tmp/ephemera_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	require.Nil(t, err)
	require.Nil(t, uut.RunSQLInTransaction(context.Background(), db.DefineTables))
	t.Cleanup(func() { _ = uut.Close() })
	return uut
}

// recordTestKey store a placeholder data key and return its ID
func recordTestKey(t *testing.T, uut db.Client) string {
	var keyID string
	require.Nil(t, uut.UseDatabaseInTransaction(
		context.Background(), func(ctx context.Context, dbClient db.Database) error {
			key, err := dbClient.RecordEncryptionKey(ctx, []byte(ulid.Make().String()))
			keyID = key.ID
			return err
		},
	))
	return keyID
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
