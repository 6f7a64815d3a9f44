// Package ephemera - ephemeral content host: self destructing notes and expiring albums
package ephemera

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/ephemera/blobs"
	"github.com/alwitt/ephemera/config"
	"github.com/alwitt/ephemera/db"
	"github.com/alwitt/ephemera/encryption"
	"github.com/alwitt/ephemera/expiry"
	"github.com/alwitt/ephemera/models"
	"github.com/alwitt/ephemera/password"
	"github.com/alwitt/ephemera/store"
	"github.com/apex/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Host a fully wired ephemeral content host
type Host struct {
	Persistence db.Client
	Crypto      encryption.CryptographyEngine
	Box         store.CryptoBox
	Notes       store.NoteManager
	Sections    store.SectionManager
	Retention   store.RetentionStore
	Flagged     store.FlaggedStore
	Reaper      *store.Reaper
	Clock       expiry.Clock
}

// HostParams host construction parameters
type HostParams struct {
	// DBDialector GORM dialector
	DBDialector gorm.Dialector
	// DBLogLevel SQL log level
	DBLogLevel logger.LogLevel
	// DefineSchema create or update the tables before use
	DefineSchema bool
	// PrimaryRSACertFile file path to the primary RSA certificate PEM
	PrimaryRSACertFile string
	// PrimaryRSAKeyFile file path to the primary RSA certificate private key PEM
	PrimaryRSAKeyFile string
	// BcryptCost password hashing cost; 0 selects the library default
	BcryptCost int
	// RetentionTTL lifetime of retention copies; 0 disables retention
	RetentionTTL time.Duration
	// FlagTerms content policy terms; empty disables flagging
	FlagTerms []string
	// Blobs section file store
	Blobs blobs.BlobStore
	// Clock time source; the system clock when nil
	Clock expiry.Clock
}

/*
NewHost initialize a host instance.

Each instance is backed by a SQL database; two instances using the same database and blob
store serve the same content.

	@param ctx context.Context - execution context
	@param params HostParams - host parameters
	@returns new host instance
*/
func NewHost(ctx context.Context, params HostParams) (*Host, error) {
	if params.Blobs == nil {
		return nil, fmt.Errorf("host requires a blob store")
	}
	clock := params.Clock
	if clock == nil {
		clock = expiry.SystemClock{}
	}

	// Prepare persistence
	persistence, err := db.NewConnection(params.DBDialector, params.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}
	host, err := newHost(ctx, persistence, clock, params)
	if err != nil {
		_ = persistence.Close()
		return nil, err
	}
	return host, nil
}

func newHost(
	ctx context.Context, persistence db.Client, clock expiry.Clock, params HostParams,
) (*Host, error) {
	if params.DefineSchema {
		if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
			return nil, fmt.Errorf("failed to define tables [%w]", err)
		}
	}

	// Prepare cryptography engine
	cryptoEngine, err := encryption.NewCryptographyEngine(ctx, encryption.CryptographyEngineParams{
		Persistence:        persistence,
		PrimaryRSACertFile: params.PrimaryRSACertFile,
		PrimaryRSAKeyFile:  params.PrimaryRSAKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized cryptography engine [%w]", err)
	}

	box, err := bootstrap(ctx, persistence, cryptoEngine)
	if err != nil {
		return nil, err
	}

	gate, err := password.NewBcryptGate(params.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized password gate [%w]", err)
	}

	retention := store.NewRetentionStore(persistence, box, clock)
	flagged := store.NewFlaggedStore(persistence, box, clock)
	noteParams := store.NoteManagerParams{
		Persistence:  persistence,
		Box:          box,
		Gate:         gate,
		Clock:        clock,
		Retention:    retention,
		RetentionTTL: params.RetentionTTL,
		Flagged:      flagged,
	}
	if len(params.FlagTerms) > 0 {
		noteParams.Policy = store.NewTermPolicy(params.FlagTerms)
	}
	notes, err := store.NewNoteManager(noteParams)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized note manager [%w]", err)
	}
	sections := store.NewSectionManager(persistence, params.Blobs, clock)

	return &Host{
		Persistence: persistence,
		Crypto:      cryptoEngine,
		Box:         box,
		Notes:       notes,
		Sections:    sections,
		Retention:   retention,
		Flagged:     flagged,
		Reaper:      store.NewReaper(notes, sections, retention),
		Clock:       clock,
	}, nil
}

// bootstrap move the database to RUNNING, preparing the first data key on the way
func bootstrap(
	ctx context.Context, persistence db.Client, cryptoEngine encryption.CryptographyEngine,
) (store.CryptoBox, error) {
	var state models.SystemStateENUMType
	if err := persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			params, err := dbClient.GetSystemParamEntry(dbCtx)
			if err != nil {
				return err
			}
			state = params.State
			if state != models.SystemStateRunning {
				return dbClient.MarkSystemInitializing(dbCtx)
			}
			return nil
		},
	); err != nil {
		return nil, fmt.Errorf("failed to read system state [%w]", err)
	}

	box, err := store.NewCryptoBox(ctx, persistence, cryptoEngine)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized crypto box [%w]", err)
	}

	if state != models.SystemStateRunning {
		if err := persistence.UseDatabaseInTransaction(
			ctx, func(dbCtx context.Context, dbClient db.Database) error {
				return dbClient.MarkSystemInitialized(dbCtx)
			},
		); err != nil {
			return nil, fmt.Errorf("failed to mark system initialized [%w]", err)
		}
		log.WithField("working-key", box.WorkingKeyID()).Info("Host bootstrapped")
	}
	return box, nil
}

/*
DialectorFromConfig select the GORM dialector of the configured database

	@param cfg config.DatabaseConfig - database configuration
	@returns the dialector
*/
func DialectorFromConfig(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		return db.GetSqliteDialector(cfg.DSN), nil
	case "postgres":
		return db.GetPostgresDialector(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver '%s'", cfg.Driver)
	}
}

/*
BlobStoreFromConfig build the configured blob store

	@param ctx context.Context - execution context
	@param cfg config.BlobConfig - blob store configuration
	@returns the blob store
*/
func BlobStoreFromConfig(ctx context.Context, cfg config.BlobConfig) (blobs.BlobStore, error) {
	switch cfg.Backend {
	case "local":
		return blobs.NewLocalStore(cfg.LocalRoot)
	case "s3":
		return blobs.NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob backend '%s'", cfg.Backend)
	}
}

/*
NewHostFromConfig initialize a host instance from process configuration

	@param ctx context.Context - execution context
	@param cfg *config.Config - process configuration
	@param defineSchema bool - create or update the tables before use
	@returns new host instance
*/
func NewHostFromConfig(ctx context.Context, cfg *config.Config, defineSchema bool) (*Host, error) {
	dialector, err := DialectorFromConfig(cfg.Database)
	if err != nil {
		return nil, err
	}
	blobStore, err := BlobStoreFromConfig(ctx, cfg.Blobs)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized blob store [%w]", err)
	}
	return NewHost(ctx, HostParams{
		DBDialector:        dialector,
		DBLogLevel:         cfg.GormLogLevel(),
		DefineSchema:       defineSchema,
		PrimaryRSACertFile: cfg.Crypto.RSACertFile,
		PrimaryRSAKeyFile:  cfg.Crypto.RSAKeyFile,
		BcryptCost:         cfg.Crypto.BcryptCost,
		RetentionTTL:       cfg.Notes.RetentionTTL,
		FlagTerms:          cfg.Notes.FlagTerms,
		Blobs:              blobStore,
	})
}

/*
ListAuditEvents list the recorded system events, oldest first

	@param ctx context.Context - execution context
	@param filters db.SystemEventQueryFilter - event filter
	@returns the events
*/
func (h *Host) ListAuditEvents(
	ctx context.Context, filters db.SystemEventQueryFilter,
) ([]models.SystemEventAudit, error) {
	var events []models.SystemEventAudit
	if dbErr := h.Persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			events, err = dbClient.ListSystemEvents(dbCtx, filters)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list audit events [%w]", dbErr)
	}
	return events, nil
}

// Close release the host's database connections
func (h *Host) Close() error {
	return h.Persistence.Close()
}
