package store

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) upsertSettingQuery() string {
	switch s.dialect {
	case "postgres":
		return `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES ($1, $2, $3)
            ON CONFLICT (setting_key) DO UPDATE SET setting_value = $2, updated_at = $3`
	case "mysql":
		return `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
            ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value), updated_at = VALUES(updated_at)`
	default:
		return `INSERT INTO settings (setting_key, setting_value, updated_at) VALUES (?, ?, ?)
            ON CONFLICT (setting_key) DO UPDATE SET setting_value = excluded.setting_value, updated_at = excluded.updated_at`
	}
}

// GetSettings returns every stored setting as raw strings. Callers decode and
// apply defaults; the store knows nothing about individual keys.
func (s *Store) GetSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT setting_key, setting_value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// SetSetting writes a single key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.upsertSettingQuery(), key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// SetSettings writes several keys in one transaction so a partial update is
// never visible.
func (s *Store) SetSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.upsertSettingQuery()
	now := time.Now().UTC()
	for key, value := range values {
		if _, err := tx.ExecContext(ctx, query, key, value, now); err != nil {
			return fmt.Errorf("failed to set setting %s: %w", key, err)
		}
	}

	return tx.Commit()
}
