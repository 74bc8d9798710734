package dbcal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// defaultCategories seeds the palette for users without a saved one.
var defaultCategories = map[string]string{
	"Personal": "c0c0c0",
	"Work":     "ff0000",
	"Family":   "00ff00",
	"Holiday":  "ff6600",
}

func (s *Store) readCategories(ctx context.Context, sess *store.Session) (map[string]string, error) {
	value, err := s.db.GetPref(ctx, sess.UserID, prefCategories)
	if err != nil {
		return nil, fmt.Errorf("failed to read categories: %w", err)
	}
	if value == "" {
		palette := make(map[string]string, len(defaultCategories))
		for name, color := range defaultCategories {
			palette[name] = color
		}
		return palette, nil
	}
	var palette map[string]string
	if err := json.Unmarshal([]byte(value), &palette); err != nil {
		return nil, fmt.Errorf("failed to decode categories: %w", err)
	}
	return palette, nil
}

func (s *Store) writeCategories(ctx context.Context, sess *store.Session, palette map[string]string) error {
	data, err := json.Marshal(palette)
	if err != nil {
		return err
	}
	return s.db.SetPref(ctx, sess.UserID, prefCategories, string(data))
}

func (s *Store) ListCategories(ctx context.Context, sess *store.Session) (map[string]string, error) {
	return s.readCategories(ctx, sess)
}

func (s *Store) AddCategory(ctx context.Context, sess *store.Session, name, color string) error {
	palette, err := s.readCategories(ctx, sess)
	if err != nil {
		return err
	}
	palette[name] = color
	return s.writeCategories(ctx, sess, palette)
}

// ReplaceCategory renames a category or changes its color, rewriting
// the category of every event that referenced the old name.
func (s *Store) ReplaceCategory(ctx context.Context, sess *store.Session, oldName, newName, color string) error {
	palette, err := s.readCategories(ctx, sess)
	if err != nil {
		return err
	}
	if _, ok := palette[oldName]; !ok {
		return store.ErrNotFound
	}
	delete(palette, oldName)
	palette[newName] = color
	if err := s.writeCategories(ctx, sess, palette); err != nil {
		return err
	}

	if oldName != newName {
		ids, err := s.calendarIDs(ctx, sess)
		if err != nil {
			return err
		}
		_, err = s.db.Pool.Exec(ctx,
			`UPDATE events SET categories = $1
			 WHERE categories = $2 AND calendar_id = ANY($3)`,
			newName, oldName, ids,
		)
		if err != nil {
			return fmt.Errorf("failed to rename category: %w", err)
		}
		sess.DropCache()
	}
	return nil
}

func (s *Store) RemoveCategory(ctx context.Context, sess *store.Session, name string) error {
	palette, err := s.readCategories(ctx, sess)
	if err != nil {
		return err
	}
	if _, ok := palette[name]; !ok {
		return store.ErrNotFound
	}
	delete(palette, name)
	if err := s.writeCategories(ctx, sess, palette); err != nil {
		return err
	}

	ids, err := s.calendarIDs(ctx, sess)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`UPDATE events SET categories = '' WHERE categories = $1 AND calendar_id = ANY($2)`,
		name, ids,
	)
	if err != nil {
		return fmt.Errorf("failed to clear category: %w", err)
	}
	sess.DropCache()
	return nil
}
