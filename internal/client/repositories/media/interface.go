package media

import (
	"context"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/dbx"
)

// Repository describes CRUD and query operations for media records.
type Repository interface {
	// Create inserts a new record. The record must pass models.Media.Validate.
	Create(ctx context.Context, m *models.Media) error

	// Update overwrites every mutable column of an existing record.
	Update(ctx context.Context, m *models.Media) error

	// Delete removes the record with the given local id.
	Delete(ctx context.Context, localID string) error

	// GetByID returns a record by its local id.
	GetByID(ctx context.Context, localID string) (*models.Media, error)

	// GetByRemoteID returns the record of a blog carrying the server id.
	GetByRemoteID(ctx context.Context, blogID, remoteID string) (*models.Media, error)

	// ListByBlog returns every record of a blog, oldest first.
	ListByBlog(ctx context.Context, blogID string) ([]*models.Media, error)

	// ListByState returns records in any of the given upload states.
	ListByState(ctx context.Context, states ...models.UploadState) ([]*models.Media, error)

	// ListAll returns every record.
	ListAll(ctx context.Context) ([]*models.Media, error)

	// CountByType counts the records of a blog whose type is in types.
	// An empty set counts every record of the blog.
	CountByType(ctx context.Context, blogID string, types []models.MediaType) (int, error)

	// WithDB returns a repository bound to another handle, typically a *sql.Tx.
	WithDB(db dbx.DBTX) Repository
}
