package client

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/mediasync/internal/client/migrations"
	"github.com/dmitrijs2005/mediasync/internal/client/repositories/media"
	"github.com/dmitrijs2005/mediasync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/mediasync/internal/dbx"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by InitDatabase.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

type Repositories struct {
	DB       *sql.DB
	Dialect  dbx.Dialect
	Media    media.Repository
	Metadata metadata.Repository
}

func (r *Repositories) Close() error {
	return r.DB.Close()
}

func dialectFor(driver string) (dbx.Dialect, error) {
	switch driver {
	case DriverSQLite, "":
		return dbx.DialectSQLite, nil
	case DriverPostgres, "postgres":
		return dbx.DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func RunMigrations(ctx context.Context, db *sql.DB, dialect dbx.Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	defer goose.SetBaseFS(nil)

	gooseDialect, dir := "sqlite3", "sqlite"
	if dialect == dbx.DialectPostgres {
		gooseDialect, dir = "postgres", "postgres"
	}

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, dir)
}

// InitDatabase opens the local store, applies migrations and returns the
// repositories bound to it.
func InitDatabase(ctx context.Context, driver, dsn string) (*Repositories, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	driverName := DriverSQLite
	if dialect == dbx.DialectPostgres {
		driverName = DriverPostgres
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if dialect == dbx.DialectSQLite {
		// one writer at a time; avoids SQLITE_BUSY under concurrent uploads
		db.SetMaxOpenConns(1)
	}

	if err := RunMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repositories{
		DB:       db,
		Dialect:  dialect,
		Media:    media.NewRepository(db, dialect),
		Metadata: metadata.NewRepository(db, dialect),
	}, nil
}
