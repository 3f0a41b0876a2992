package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// File is an uploaded attachment. Path is relative to the upload directory.
type File struct {
	ID         int64
	Name       string
	Size       int64
	MimeType   string
	Path       string
	SHA256     string
	UploadedBy string
	CreatedAt  time.Time
}

// CreateFile records an uploaded file and returns its id.
func (s *Store) CreateFile(ctx context.Context, f File) (int64, error) {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}
	if f.MimeType == "" {
		f.MimeType = "application/octet-stream"
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO files(name, size, mime_type, path, sha256, uploaded_by, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`), f.Name, f.Size, f.MimeType, f.Path, f.SHA256, f.UploadedBy, f.CreatedAt).Scan(&id)
	return id, err
}

// GetFile fetches file metadata by id.
func (s *Store) GetFile(ctx context.Context, id int64) (*File, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, size, mime_type, path, sha256, uploaded_by, created_at
		FROM files WHERE id = ?
	`), id)
	var f File
	if err := row.Scan(&f.ID, &f.Name, &f.Size, &f.MimeType, &f.Path, &f.SHA256, &f.UploadedBy, &f.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// FilesForMessages batch-loads attachments keyed by message id, in the order
// they were attached.
func (s *Store) FilesForMessages(ctx context.Context, messageIDs []int64) (map[int64][]File, error) {
	result := make(map[int64][]File, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}
	args := make([]any, 0, len(messageIDs))
	for _, id := range messageIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT mf.message_id, f.id, f.name, f.size, f.mime_type, f.path, f.sha256, f.uploaded_by, f.created_at
		FROM message_files mf JOIN files f ON f.id = mf.file_id
		WHERE mf.message_id IN (`+placeholders(len(args))+`)
		ORDER BY mf.message_id, mf.position
	`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var messageID int64
		var f File
		if err := rows.Scan(&messageID, &f.ID, &f.Name, &f.Size, &f.MimeType, &f.Path, &f.SHA256, &f.UploadedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		result[messageID] = append(result[messageID], f)
	}
	return result, rows.Err()
}
