package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type StoredFile struct {
	ID          string
	UserID      string
	Path        string
	FileName    string
	MIME        string
	Size        int64
	Data        []byte
	Preview     []byte
	PreviewMIME string
	CreatedAt   time.Time
}

func (s *Store) SaveFile(ctx context.Context, f StoredFile) (*StoredFile, error) {
	if strings.TrimSpace(f.Path) == "" || f.UserID == "" {
		return nil, errors.New("file path and owner are required")
	}
	f.ID = newID()
	f.Size = int64(len(f.Data))
	f.CreatedAt = fromUnix(nowUnix())
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO stored_files (id, user_id, path, file_name, mime, size, data, preview, preview_mime, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
		`, f.ID, f.UserID, f.Path, f.FileName, f.MIME, f.Size, f.Data, f.Preview, f.PreviewMIME, f.CreatedAt.Unix())
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return &f, nil
}

func (s *Store) GetFile(ctx context.Context, id string) (*StoredFile, error) {
	var (
		f         StoredFile
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, path, file_name, mime, size, data, preview, preview_mime, created_at
		FROM stored_files WHERE id = ? LIMIT 1;
	`, id).Scan(&f.ID, &f.UserID, &f.Path, &f.FileName, &f.MIME, &f.Size, &f.Data, &f.Preview, &f.PreviewMIME, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	f.CreatedAt = fromUnix(createdAt)
	return &f, nil
}

func (s *Store) DeleteFile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stored_files WHERE id = ?;`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
