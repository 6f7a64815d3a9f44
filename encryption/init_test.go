package encryption_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/encryption"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// testRSAFiles absolute paths of the unit test RSA certificate and key
func testRSAFiles(t *testing.T) (string, string) {
	testCertFile, err := filepath.Abs("../test/ut_rsa.crt")
	require.Nil(t, err)
	testKeyFile, err := filepath.Abs("../test/ut_rsa.key")
	require.Nil(t, err)
	return testCertFile, testKeyFile
}

// newTestEngine engine over a fresh sqlite database
func newTestEngine(t *testing.T) (encryption.CryptographyEngine, db.Client) {
	testDB := fmt.Sprintf("/tmp/ephemera_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	dbClient, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	require.Nil(t, err)
	require.Nil(t, dbClient.RunSQLInTransaction(context.Background(), db.DefineTables))
	t.Cleanup(func() { _ = dbClient.Close() })

	testCertFile, testKeyFile := testRSAFiles(t)
	uut, err := encryption.NewCryptographyEngine(
		context.Background(), encryption.CryptographyEngineParams{
			Persistence:        dbClient,
			PrimaryRSACertFile: testCertFile,
			PrimaryRSAKeyFile:  testKeyFile,
		},
	)
	require.Nil(t, err)
	return uut, dbClient
}

func TestCryptoEngineInit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	// Case 0: no RSA files
	{
		_, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{})
		assert.Error(err)
	}

	testCertFile, testKeyFile := testRSAFiles(t)

	// Case 1: with RSA cert file
	{
		_, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
			PrimaryRSACertFile: testCertFile,
			PrimaryRSAKeyFile:  testKeyFile,
		})
		assert.Nil(err)
	}

	// Case 2: certificate of another key pair
	{
		altCertFile, err := filepath.Abs("../test/ut_rsa_alt.crt")
		assert.Nil(err)
		_, err = encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
			PrimaryRSACertFile: altCertFile,
			PrimaryRSAKeyFile:  testKeyFile,
		})
		assert.Error(err)
	}
	// Case 3: not a PEM file
	{
		garbage := filepath.Join(t.TempDir(), "garbage.crt")
		assert.Nil(os.WriteFile(garbage, []byte("hello"), 0o600))
		_, err := encryption.NewCryptographyEngine(utCtx, encryption.CryptographyEngineParams{
			PrimaryRSACertFile: garbage,
			PrimaryRSAKeyFile:  testKeyFile,
		})
		assert.ErrorContains(err, "no PEM block")
	}
}
