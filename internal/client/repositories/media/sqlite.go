package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/common"
	"github.com/dmitrijs2005/mediasync/internal/dbx"
)

const mediaColumns = `local_id, remote_id, blog_id, post_id, local_path, thumbnail_path, remote_url,
	media_type, mime_type, filename, size, width, height, upload_state, origin, dirty,
	caption, alt, title, description, created_at, updated_at`

// SQLRepository implements Repository over SQLite or Postgres.
type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
	now     func() time.Time
}

var _ Repository = (*SQLRepository)(nil)

func NewRepository(db dbx.DBTX, dialect dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}
}

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return NewRepository(db, dbx.DialectSQLite)
}

func (r *SQLRepository) WithDB(db dbx.DBTX) Repository {
	return &SQLRepository{db: db, dialect: r.dialect, now: r.now}
}

func (r *SQLRepository) Create(ctx context.Context, m *models.Media) error {
	if err := m.Validate(); err != nil {
		return err
	}
	now := r.now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	query := `INSERT INTO media (` + mediaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		m.LocalID, nullable(m.RemoteID), m.BlogID, m.PostID, m.LocalPath, m.ThumbnailPath, m.RemoteURL,
		string(m.MediaType), m.MIMEType, m.Filename, m.Size, m.Width, m.Height,
		string(m.UploadState), string(m.Origin), m.Dirty,
		m.Metadata.Caption, m.Metadata.Alt, m.Metadata.Title, m.Metadata.Description,
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert media %s: %w", m.LocalID, err)
	}
	return nil
}

func (r *SQLRepository) Update(ctx context.Context, m *models.Media) error {
	if err := m.Validate(); err != nil {
		return err
	}
	m.UpdatedAt = r.now()

	query := `UPDATE media SET remote_id = ?, blog_id = ?, post_id = ?, local_path = ?, thumbnail_path = ?,
			remote_url = ?, media_type = ?, mime_type = ?, filename = ?, size = ?, width = ?, height = ?,
			upload_state = ?, origin = ?, dirty = ?, caption = ?, alt = ?, title = ?, description = ?,
			updated_at = ?
		WHERE local_id = ?`
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		nullable(m.RemoteID), m.BlogID, m.PostID, m.LocalPath, m.ThumbnailPath,
		m.RemoteURL, string(m.MediaType), m.MIMEType, m.Filename, m.Size, m.Width, m.Height,
		string(m.UploadState), string(m.Origin), m.Dirty,
		m.Metadata.Caption, m.Metadata.Alt, m.Metadata.Title, m.Metadata.Description,
		m.UpdatedAt, m.LocalID)
	if err != nil {
		return fmt.Errorf("failed to update media %s: %w", m.LocalID, err)
	}
	return expectOneRow(result, m.LocalID)
}

func (r *SQLRepository) Delete(ctx context.Context, localID string) error {
	result, err := r.db.ExecContext(ctx, r.dialect.Rebind(`DELETE FROM media WHERE local_id = ?`), localID)
	if err != nil {
		return fmt.Errorf("failed to delete media %s: %w", localID, err)
	}
	return expectOneRow(result, localID)
}

func (r *SQLRepository) GetByID(ctx context.Context, localID string) (*models.Media, error) {
	row := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+mediaColumns+` FROM media WHERE local_id = ?`), localID)
	m, err := scanMedia(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get media %s: %w", localID, err)
	}
	return m, nil
}

func (r *SQLRepository) GetByRemoteID(ctx context.Context, blogID, remoteID string) (*models.Media, error) {
	row := r.db.QueryRowContext(ctx,
		r.dialect.Rebind(`SELECT `+mediaColumns+` FROM media WHERE blog_id = ? AND remote_id = ?`),
		blogID, remoteID)
	m, err := scanMedia(row)
	if err != nil {
		return nil, fmt.Errorf("failed to get media %s/%s: %w", blogID, remoteID, err)
	}
	return m, nil
}

func (r *SQLRepository) ListByBlog(ctx context.Context, blogID string) ([]*models.Media, error) {
	return r.list(ctx, `WHERE blog_id = ? ORDER BY created_at, local_id`, blogID)
}

func (r *SQLRepository) ListByState(ctx context.Context, states ...models.UploadState) ([]*models.Media, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = string(s)
	}
	return r.list(ctx, `WHERE upload_state IN (`+placeholders(len(states))+`) ORDER BY created_at, local_id`, args...)
}

func (r *SQLRepository) ListAll(ctx context.Context) ([]*models.Media, error) {
	return r.list(ctx, `ORDER BY created_at, local_id`)
}

func (r *SQLRepository) CountByType(ctx context.Context, blogID string, types []models.MediaType) (int, error) {
	query := `SELECT COUNT(*) FROM media WHERE blog_id = ?`
	args := []any{blogID}
	if len(types) > 0 {
		query += ` AND media_type IN (` + placeholders(len(types)) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}

	var n int
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count media of blog %s: %w", blogID, err)
	}
	return n, nil
}

func (r *SQLRepository) list(ctx context.Context, where string, args ...any) ([]*models.Media, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(`SELECT `+mediaColumns+` FROM media `+where), args...)
	if err != nil {
		return nil, fmt.Errorf("error selecting media: %w", err)
	}
	defer rows.Close()

	var result []*models.Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating media: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMedia(s scanner) (*models.Media, error) {
	var (
		m                        models.Media
		remoteID                 sql.NullString
		mediaType, state, origin string
	)
	err := s.Scan(&m.LocalID, &remoteID, &m.BlogID, &m.PostID, &m.LocalPath, &m.ThumbnailPath, &m.RemoteURL,
		&mediaType, &m.MIMEType, &m.Filename, &m.Size, &m.Width, &m.Height, &state, &origin, &m.Dirty,
		&m.Metadata.Caption, &m.Metadata.Alt, &m.Metadata.Title, &m.Metadata.Description,
		&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning media: %w", err)
	}
	m.RemoteID = remoteID.String
	m.MediaType = models.MediaType(mediaType)
	m.UploadState = models.UploadState(state)
	m.Origin = models.Origin(origin)
	return &m, nil
}

func expectOneRow(result sql.Result, localID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("media %s: %w", localID, common.ErrNotFound)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
