// Package mobilesync implements the Mobile Sync Core (C8): a sequenced
// snapshot/event broker, device pairing and bearer-token auth, and an HTTP
// + WebSocket surface under /mobile/v1, grounded in
// internal/relay/handler.go's writeJSON/writeError + WS accept/read/write
// loop shape (teacher) and in
// original_source/src-tauri/src/mobile_sync/{protocol,state_cache,auth,server}.rs
// for the exact wire format and broker semantics.
package mobilesync

import "encoding/json"

const (
	ProtocolVersion = 1
	VersionHeader   = "x-codeinterfacex-sync-version"
)

// SnapshotV1 is the full desktop-state snapshot served by GET /snapshot and
// published into the broadcast stream as the payload of snapshot.updated.
type SnapshotV1 struct {
	Version     int             `json:"version"`
	Sequence    uint64          `json:"sequence"`
	GeneratedAt string          `json:"generatedAt"`
	State       json.RawMessage `json:"state"`
}

// EventEnvelopeV1 is one item on the broadcast stream.
type EventEnvelopeV1 struct {
	Version     int             `json:"version"`
	Sequence    uint64          `json:"sequence"`
	EventType   string          `json:"eventType"`
	GeneratedAt string          `json:"generatedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// ActionRequestV1 is POST /action's body.
type ActionRequestV1 struct {
	Version    int             `json:"version"`
	ActionID   string          `json:"actionId"`
	ActionType string          `json:"actionType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ActionResultV1 is POST /action's response payload.
type ActionResultV1 struct {
	Version  int             `json:"version"`
	ActionID string          `json:"actionId"`
	Status   string          `json:"status"`
	Sequence uint64          `json:"sequence"`
	Error    string          `json:"error,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// PairingPayloadV1 is POST /pair/start's response payload.
type PairingPayloadV1 struct {
	Version   int    `json:"version"`
	PairCode  string `json:"pairCode"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	ExpiresAt string `json:"expiresAt"`
}

// PairClaimRequest is POST /pair/claim's body. ConfirmationToken is required
// only when the server has MobileSyncRequireWebAuthn set, in which case it
// must be the token minted by POST /pair/webauthn/finish for the same
// PairCode.
type PairClaimRequest struct {
	PairCode          string `json:"pairCode"`
	DeviceName        string `json:"deviceName"`
	ConfirmationToken string `json:"confirmationToken,omitempty"`
}

// PairClaimResponse is POST /pair/claim's response payload.
type PairClaimResponse struct {
	Version  int    `json:"version"`
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
	BaseURL  string `json:"baseUrl"`
	WSURL    string `json:"wsUrl"`
}

// DeviceRevokeRequest is POST /device/revoke's body.
type DeviceRevokeRequest struct {
	DeviceID string `json:"deviceId"`
}

// envelope is the outer {success, data?, error?} shape every JSON response
// uses, per spec §6.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}
