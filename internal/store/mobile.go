package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MobileDevice mirrors spec §3 MobileDevice.
type MobileDevice struct {
	ID         string
	DeviceName string
	TokenHash  string
	Revoked    bool
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

// CreatePairingCode inserts a fresh, unclaimed pairing code.
func (s *Store) CreatePairingCode(code string, expiresAt time.Time) error {
	_, err := s.db.Exec(`INSERT INTO mobile_pairing_codes (code, expires_at, claimed) VALUES (?, ?, 0)`,
		code, expiresAt.UTC().Format(runTimeFmt))
	if err != nil {
		return fmt.Errorf("create pairing code: %w", err)
	}
	return nil
}

// ClaimPairingCode atomically marks code claimed iff it exists, is unclaimed
// and unexpired, returning whether the claim succeeded.
func (s *Store) ClaimPairingCode(code string, now time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE mobile_pairing_codes SET claimed = 1
		WHERE code = ? AND claimed = 0 AND expires_at > ?`, code, now.UTC().Format(runTimeFmt))
	if err != nil {
		return false, fmt.Errorf("claim pairing code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim pairing code: %w", err)
	}
	return n > 0, nil
}

// CreateMobileDevice inserts a newly-paired device.
func (s *Store) CreateMobileDevice(d *MobileDevice) error {
	_, err := s.db.Exec(`INSERT INTO mobile_devices (id, device_name, token_hash, revoked) VALUES (?, ?, ?, 0)`,
		d.ID, d.DeviceName, d.TokenHash)
	if err != nil {
		return fmt.Errorf("create mobile device: %w", err)
	}
	return nil
}

// MobileDeviceByTokenHash looks up a device by its hashed bearer token,
// revoked or not; callers distinguish "not found" (nil, nil) from "found
// but revoked" (non-nil with Revoked set) so they can log or respond to
// each case differently, matching auth.rs's authenticate_token.
func (s *Store) MobileDeviceByTokenHash(tokenHash string) (*MobileDevice, error) {
	d := &MobileDevice{}
	var lastSeen *string
	var created string
	err := s.db.QueryRow(`SELECT id, device_name, token_hash, revoked, last_seen_at, created_at
		FROM mobile_devices WHERE token_hash = ?`, tokenHash).Scan(
		&d.ID, &d.DeviceName, &d.TokenHash, &d.Revoked, &lastSeen, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup mobile device: %w", err)
	}
	d.LastSeenAt = parseRunTimePtr(lastSeen)
	d.CreatedAt = parseRunTime(created)
	return d, nil
}

// TouchMobileDeviceLastSeen updates last_seen_at on successful auth.
func (s *Store) TouchMobileDeviceLastSeen(id string, at time.Time) error {
	_, err := s.db.Exec(`UPDATE mobile_devices SET last_seen_at = ? WHERE id = ?`, at.UTC().Format(runTimeFmt), id)
	return err
}

// RevokeMobileDevice marks a device revoked; subsequent auth lookups treat
// it as HTTP 401 regardless of token validity.
func (s *Store) RevokeMobileDevice(id string) error {
	_, err := s.db.Exec(`UPDATE mobile_devices SET revoked = 1 WHERE id = ?`, id)
	return err
}

// ListMobileDevices returns every paired device, including revoked ones, for
// the local admin surface (wtctl mobile-sync devices).
func (s *Store) ListMobileDevices() ([]*MobileDevice, error) {
	rows, err := s.db.Query(`SELECT id, device_name, token_hash, revoked, last_seen_at, created_at
		FROM mobile_devices ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list mobile devices: %w", err)
	}
	defer rows.Close()
	var out []*MobileDevice
	for rows.Next() {
		d := &MobileDevice{}
		var lastSeen *string
		var created string
		if err := rows.Scan(&d.ID, &d.DeviceName, &d.TokenHash, &d.Revoked, &lastSeen, &created); err != nil {
			return nil, fmt.Errorf("scan mobile device: %w", err)
		}
		d.LastSeenAt = parseRunTimePtr(lastSeen)
		d.CreatedAt = parseRunTime(created)
		out = append(out, d)
	}
	return out, rows.Err()
}
