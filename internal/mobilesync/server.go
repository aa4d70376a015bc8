package mobilesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeinterfacex/core/internal/logger"
	"github.com/codeinterfacex/core/internal/store"
)

// pairingTTL mirrors server.rs's pair_start_handler, which gives a freshly
// minted pairing code 5 minutes to be claimed.
const pairingTTL = 5 * time.Minute

// heartbeatInterval mirrors server.rs's websocket_loop heartbeat_interval.
const heartbeatInterval = 10 * time.Second

// Server wires the Broker, the store and an ActionDispatcher into the
// /mobile/v1 HTTP + WebSocket surface described in protocol.rs/server.rs.
type Server struct {
	Broker     *Broker
	Store      *store.Store
	Dispatcher ActionDispatcher
	BindHost   string
	Port       int
	PublicHost string

	// WebAuthn, when non-nil, backs the /pair/webauthn/{begin,finish}
	// ceremony. RequireWebAuthn gates pair/claim on a valid confirmation
	// token from that ceremony; it has no effect while WebAuthn is nil.
	WebAuthn        *WebAuthnPairing
	RequireWebAuthn bool
}

// Routes registers every /mobile/v1 endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /mobile/v1/health", s.handleHealth)
	mux.HandleFunc("GET /mobile/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /mobile/v1/action", s.handleAction)
	mux.HandleFunc("POST /mobile/v1/pair/start", s.handlePairStart)
	mux.HandleFunc("POST /mobile/v1/pair/claim", s.handlePairClaim)
	mux.HandleFunc("POST /mobile/v1/pair/webauthn/begin", s.handlePairWebAuthnBegin)
	mux.HandleFunc("POST /mobile/v1/pair/webauthn/finish", s.handlePairWebAuthnFinish)
	mux.HandleFunc("POST /mobile/v1/device/revoke", s.handleDeviceRevoke)
	mux.HandleFunc("GET /mobile/v1/ws", s.handleWS)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{Success: false, Error: msg})
}

func (s *Server) requireEnabled(w http.ResponseWriter) bool {
	if !s.Broker.IsEnabled() {
		writeErr(w, http.StatusServiceUnavailable, "mobile sync is disabled")
		return false
	}
	return true
}

func (s *Server) requireVersion(w http.ResponseWriter, r *http.Request) bool {
	if !VerifyProtocolVersion(r.Header.Get(VersionHeader)) {
		writeErr(w, http.StatusBadRequest, "unsupported or missing protocol version")
		return false
	}
	return true
}

// authenticate runs the bearer-token check shared by every authenticated
// route, writing the appropriate error response itself on failure.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*store.MobileDevice, bool) {
	token, err := ExtractBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeErr(w, http.StatusUnauthorized, "authentication failed")
		return nil, false
	}
	device, err := AuthenticateToken(s.Store, token)
	if err != nil {
		writeErr(w, http.StatusUnauthorized, err.Error())
		return nil, false
	}
	return device, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{
		"version":          ProtocolVersion,
		"enabled":          s.Broker.IsEnabled(),
		"sequence":         s.Broker.CurrentSequence(),
		"connectedClients": s.Broker.ConnectedClients(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if !s.requireEnabled(w) || !s.requireVersion(w, r) {
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	snap := s.Broker.LatestSnapshot()
	if snap == nil {
		empty, _ := json.Marshal(map[string]any{"tabs": []any{}, "activeTabId": nil})
		created, _ := s.Broker.PublishSnapshot(empty)
		snap = &created
	}
	writeOK(w, snap)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if !s.requireEnabled(w) || !s.requireVersion(w, r) {
		return
	}
	device, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req ActionRequestV1
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid action request body")
		return
	}
	if req.Version != ProtocolVersion {
		writeErr(w, http.StatusBadRequest, "unsupported action version")
		return
	}

	if s.Dispatcher != nil {
		if err := s.Dispatcher.Dispatch(r.Context(), req); err != nil {
			writeOK(w, ActionResultV1{
				Version:  ProtocolVersion,
				ActionID: req.ActionID,
				Status:   "rejected",
				Sequence: s.Broker.CurrentSequence(),
				Error:    err.Error(),
			})
			return
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"actionId":   req.ActionID,
		"actionType": req.ActionType,
		"deviceId":   device.ID,
		"deviceName": device.DeviceName,
	})
	env := s.Broker.PublishEvent("mobile.action.requested", payload)

	writeOK(w, ActionResultV1{
		Version:  ProtocolVersion,
		ActionID: req.ActionID,
		Status:   "accepted",
		Sequence: env.Sequence,
	})
}

func (s *Server) handlePairStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireEnabled(w) || !s.requireVersion(w, r) {
		return
	}

	code := GeneratePairingCode()
	expiresAt := time.Now().Add(pairingTTL)
	if err := s.Store.CreatePairingCode(code, expiresAt); err != nil {
		logger.Error("create pairing code failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "could not start pairing")
		return
	}

	writeOK(w, PairingPayloadV1{
		Version:   ProtocolVersion,
		PairCode:  code,
		Host:      s.PublicHost,
		Port:      s.Port,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePairClaim(w http.ResponseWriter, r *http.Request) {
	if !s.requireVersion(w, r) {
		return
	}

	var req PairClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid pairing claim body")
		return
	}

	if s.RequireWebAuthn {
		if s.WebAuthn == nil {
			writeErr(w, http.StatusInternalServerError, "webauthn confirmation required but not configured")
			return
		}
		if _, err := s.WebAuthn.VerifyConfirmationToken(req.ConfirmationToken, req.PairCode); err != nil {
			writeErr(w, http.StatusUnauthorized, "webauthn confirmation required")
			return
		}
	}

	claimed, err := s.Store.ClaimPairingCode(req.PairCode, time.Now())
	if err != nil {
		logger.Error("claim pairing code failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "could not claim pairing code")
		return
	}
	if !claimed {
		writeErr(w, http.StatusBadRequest, "invalid or expired pairing code")
		return
	}

	deviceName := req.DeviceName
	if deviceName == "" {
		deviceName = "mobile device"
	}
	device := &store.MobileDevice{
		ID:         uuid.New().String(),
		DeviceName: deviceName,
		TokenHash:  "",
	}
	token := GenerateOpaqueToken()
	device.TokenHash = HashToken(token)
	if err := s.Store.CreateMobileDevice(device); err != nil {
		logger.Error("create mobile device failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "could not register device")
		return
	}

	baseURL := fmt.Sprintf("http://%s:%d", s.PublicHost, s.Port)
	wsURL := fmt.Sprintf("ws://%s:%d/mobile/v1/ws", s.PublicHost, s.Port)
	writeOK(w, PairClaimResponse{
		Version:  ProtocolVersion,
		DeviceID: device.ID,
		Token:    token,
		BaseURL:  baseURL,
		WSURL:    wsURL,
	})
}

// handlePairWebAuthnBegin starts the optional confirmation ceremony for a
// pairing code already minted by pair/start, returning the
// CredentialCreation options for the mobile browser's
// navigator.credentials.create() call.
func (s *Server) handlePairWebAuthnBegin(w http.ResponseWriter, r *http.Request) {
	if !s.requireVersion(w, r) {
		return
	}
	if s.WebAuthn == nil {
		writeErr(w, http.StatusNotImplemented, "webauthn pairing confirmation is not configured")
		return
	}

	var req struct {
		PairCode string `json:"pairCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PairCode == "" {
		writeErr(w, http.StatusBadRequest, "invalid webauthn begin request body")
		return
	}

	creation, err := s.WebAuthn.BeginConfirmation(req.PairCode)
	if err != nil {
		logger.Error("begin webauthn confirmation failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "could not begin webauthn confirmation")
		return
	}
	writeOK(w, creation)
}

// handlePairWebAuthnFinish completes the ceremony and mints the
// confirmation token pair/claim requires when RequireWebAuthn is set.
func (s *Server) handlePairWebAuthnFinish(w http.ResponseWriter, r *http.Request) {
	if !s.requireVersion(w, r) {
		return
	}
	if s.WebAuthn == nil {
		writeErr(w, http.StatusNotImplemented, "webauthn pairing confirmation is not configured")
		return
	}

	pairCode := r.URL.Query().Get("pairCode")
	if pairCode == "" {
		writeErr(w, http.StatusBadRequest, "missing pairCode query parameter")
		return
	}

	token, err := s.WebAuthn.FinishConfirmation(pairCode, r)
	if err != nil {
		logger.Error("finish webauthn confirmation failed", "error", err)
		writeErr(w, http.StatusBadRequest, "webauthn confirmation failed")
		return
	}
	writeOK(w, map[string]string{"confirmationToken": token})
}

func (s *Server) handleDeviceRevoke(w http.ResponseWriter, r *http.Request) {
	if !s.requireVersion(w, r) {
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req DeviceRevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid revoke request body")
		return
	}
	if err := s.Store.RevokeMobileDevice(req.DeviceID); err != nil {
		logger.Error("revoke mobile device failed", "error", err)
		writeErr(w, http.StatusInternalServerError, "could not revoke device")
		return
	}
	writeOK(w, map[string]bool{"revoked": true})
}

// handleWS authenticates either via the Authorization header or a ?token=
// query fallback (the version header is not required for the latter, since
// browsers cannot set custom headers on a WebSocket upgrade request), then
// streams broadcast events as JSON text frames until the client disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.Broker.IsEnabled() {
		http.Error(w, "mobile sync is disabled", http.StatusServiceUnavailable)
		return
	}

	token := r.URL.Query().Get("token")
	if token != "" {
		if _, err := AuthenticateToken(s.Store, token); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	} else {
		if !s.requireVersion(w, r) {
			return
		}
		if _, ok := s.authenticate(w, r); !ok {
			return
		}
	}

	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		fmt.Sscanf(v, "%d", &since)
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	s.Broker.IncrementClients()
	defer s.Broker.DecrementClients()

	events, lagged, unsubscribe := s.Broker.Subscribe()
	defer unsubscribe()

	ctx := conn.CloseRead(r.Context())

	if since+1 < s.Broker.CurrentSequence() {
		s.sendGapNotice(ctx, conn, "sequence_gap")
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			if !s.writeEnvelope(ctx, conn, env) {
				return
			}
		case <-lagged:
			s.sendGapNotice(ctx, conn, "subscriber_lagged")
		case <-ticker.C:
			payload, _ := json.Marshal(map[string]uint64{"sequence": s.Broker.CurrentSequence()})
			env := EventEnvelopeV1{
				Version:     ProtocolVersion,
				Sequence:    s.Broker.CurrentSequence(),
				EventType:   "sync.heartbeat",
				GeneratedAt: nowRFC3339(),
				Payload:     payload,
			}
			if !s.writeEnvelope(ctx, conn, env) {
				return
			}
		}
	}
}

func (s *Server) sendGapNotice(ctx context.Context, conn *websocket.Conn, reason string) {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	env := EventEnvelopeV1{
		Version:     ProtocolVersion,
		Sequence:    s.Broker.CurrentSequence(),
		EventType:   "sync.resnapshot_required",
		GeneratedAt: nowRFC3339(),
		Payload:     payload,
	}
	s.writeEnvelope(ctx, conn, env)
}

func (s *Server) writeEnvelope(ctx context.Context, conn *websocket.Conn, env EventEnvelopeV1) bool {
	data, err := json.Marshal(env)
	if err != nil {
		return true
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return false
	}
	return true
}
