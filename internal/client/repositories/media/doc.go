// Package media provides the client-side persistence layer for media records.
//
// # Overview
//
// The package defines a Repository interface for creating, updating, querying
// and deleting models.Media records, and SQLRepository, an implementation over
// dbx.DBTX (*sql.DB or *sql.Tx) that runs on SQLite and Postgres.
//
// Update is the single mutation point for an existing record: callers read a
// record, change it, and write the whole row back while holding the record's
// lock (see internal/client/services).
//
// Typical Usage
//
//	repo := media.NewSQLiteRepository(db)
//	_ = repo.Create(ctx, m)
//	m, _ := repo.GetByRemoteID(ctx, blogID, remoteID)
//	pending, _ := repo.ListByState(ctx, models.UploadStateLocal, models.UploadStateFailed)
//	_ = dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    return repo.WithDB(tx).Update(ctx, m)
//	})
//
// Missing records are reported as common.ErrNotFound.
package media
