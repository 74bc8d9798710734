package dbcal

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

func (s *Store) insertAttachment(ctx context.Context, eventID int64, att *models.Attachment) error {
	var id int64
	err := s.db.Pool.QueryRow(ctx,
		`INSERT INTO attachments (event_id, filename, mimetype, size, data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING attachment_id`,
		eventID, att.Name, att.MimeType, att.Size, att.Data,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to store attachment: %w", err)
	}
	att.ID = strconv.FormatInt(id, 10)
	return nil
}

// attachmentOwner resolves the row owning an event's attachments.
// Materialized occurrences share the master's attachment set.
func attachmentOwner(ev *models.Event) (int64, error) {
	key := ev.ID
	if ev.RecurrenceID != "" {
		key = ev.RecurrenceID
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, store.ErrNotFound
	}
	return id, nil
}

func (s *Store) ListAttachments(ctx context.Context, sess *store.Session, ev *models.Event) ([]*models.Attachment, error) {
	owner, err := attachmentOwner(ev)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT attachment_id, filename, mimetype, size FROM attachments
		 WHERE event_id = $1 ORDER BY attachment_id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []*models.Attachment
	for rows.Next() {
		var (
			att models.Attachment
			id  int64
		)
		if err := rows.Scan(&id, &att.Name, &att.MimeType, &att.Size); err != nil {
			return nil, err
		}
		att.ID = strconv.FormatInt(id, 10)
		attachments = append(attachments, &att)
	}
	return attachments, rows.Err()
}

func (s *Store) GetAttachment(ctx context.Context, sess *store.Session, id string, ev *models.Event) (*models.Attachment, error) {
	owner, err := attachmentOwner(ev)
	if err != nil {
		return nil, err
	}
	aid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, store.ErrNotFound
	}

	var att models.Attachment
	err = s.db.Pool.QueryRow(ctx,
		`SELECT filename, mimetype, size FROM attachments
		 WHERE attachment_id = $1 AND event_id = $2`,
		aid, owner,
	).Scan(&att.Name, &att.MimeType, &att.Size)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	att.ID = id
	return &att, nil
}

func (s *Store) GetAttachmentBody(ctx context.Context, sess *store.Session, id string, ev *models.Event) ([]byte, error) {
	owner, err := attachmentOwner(ev)
	if err != nil {
		return nil, err
	}
	aid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, store.ErrNotFound
	}

	var data []byte
	err = s.db.Pool.QueryRow(ctx,
		`SELECT data FROM attachments WHERE attachment_id = $1 AND event_id = $2`,
		aid, owner,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}
