package mobilesync

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeinterfacex/core/internal/store"
)

var (
	// ErrAuthFailed covers both an unknown token and a malformed header, per
	// auth.rs's authenticate_token, which intentionally returns the same
	// generic failure for both so as not to leak which case occurred.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrDeviceRevoked is distinct from ErrAuthFailed because server.rs's
	// handler maps it to its own log line even though both are HTTP 401.
	ErrDeviceRevoked = errors.New("device has been revoked")
)

// VerifyProtocolVersion checks the x-codeinterfacex-sync-version header
// against ProtocolVersion.
func VerifyProtocolVersion(header string) bool {
	return strings.TrimSpace(header) == "1"
}

// ExtractBearerToken strips the "Bearer " prefix from an Authorization
// header value and rejects an empty token.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		header = header[len(prefix):]
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrAuthFailed
	}
	return header, nil
}

// HashToken returns the hex-encoded SHA-256 digest of an opaque bearer
// token, the form persisted in mobile_devices.token_hash.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GeneratePairingCode returns a 6-character uppercase hex code, grounded in
// auth.rs's generate_pairing_code (first 6 chars of a UUID, uppercased).
func GeneratePairingCode() string {
	id := uuid.New().String()
	code := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	return code[:6]
}

// GenerateOpaqueToken returns a bearer token of the form
// opc_<uuid>_<uuid-simple>, matching auth.rs's generate_opaque_token.
func GenerateOpaqueToken() string {
	id := uuid.New().String()
	simple := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "opc_" + id + "_" + simple
}

// DeviceStore is the subset of *store.Store the auth layer depends on, kept
// narrow so it can be faked in tests without a real sqlite file.
type DeviceStore interface {
	MobileDeviceByTokenHash(tokenHash string) (*store.MobileDevice, error)
	TouchMobileDeviceLastSeen(id string, at time.Time) error
}

// AuthenticateToken hashes token, looks up the owning device, rejects
// revoked devices, and records last_seen_at on success.
func AuthenticateToken(s DeviceStore, token string) (*store.MobileDevice, error) {
	device, err := s.MobileDeviceByTokenHash(HashToken(token))
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, ErrAuthFailed
	}
	if device.Revoked {
		return nil, ErrDeviceRevoked
	}
	if err := s.TouchMobileDeviceLastSeen(device.ID, time.Now()); err != nil {
		return nil, err
	}
	return device, nil
}
