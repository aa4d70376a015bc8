package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting reads one app_settings value, returning ("", false) if absent.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting upserts one app_settings value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, key, value)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// mobileSyncSettingKey namespaces a mobile-sync setting into app_settings,
// matching the mobile_sync_settings view in migrations/0001_init.sql.
func mobileSyncSettingKey(key string) string {
	return "mobile_sync." + key
}

// GetMobileSyncSetting and SetMobileSyncSetting read/write through the
// mobile_sync.* namespace, grounded in original_source's
// mobile_sync/mod.rs::read_mobile_sync_setting/write_mobile_sync_setting.
func (s *Store) GetMobileSyncSetting(key string) (string, bool, error) {
	return s.GetSetting(mobileSyncSettingKey(key))
}

func (s *Store) SetMobileSyncSetting(key, value string) error {
	return s.SetSetting(mobileSyncSettingKey(key), value)
}
