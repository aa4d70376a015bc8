package mobilesync

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/codeinterfacex/core/internal/store"
)

// webauthnMasterSecretSetting is the app_settings key the master secret is
// persisted under, following settings.go's GetSetting/SetSetting convention
// for anything that must survive a restart without its own table.
const webauthnMasterSecretSetting = "mobile_sync.webauthn_master_secret"

// LoadOrCreateMasterSecret returns the HKDF master secret confirmation
// tokens are derived from, generating and persisting a new 32-byte secret on
// first use so every wtd restart agrees on the same key.
func LoadOrCreateMasterSecret(st *store.Store) ([]byte, error) {
	if hexSecret, ok, err := st.GetSetting(webauthnMasterSecretSetting); err != nil {
		return nil, err
	} else if ok {
		return hex.DecodeString(hexSecret)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	if err := st.SetSetting(webauthnMasterSecretSetting, hex.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

// WebAuthnPairing adds a confirmation step on top of the 6-character pairing
// code: an operator can require a platform authenticator (Face ID, a hardware
// key) to confirm a new mobile device before the pair/claim response is
// issued. It is gated behind config (MobileSyncRequireWebAuthn) and unused by
// default, in which case pair/claim checks the pairing code alone.
type WebAuthnPairing struct {
	wa           *webauthn.WebAuthn
	masterSecret []byte

	mu       sync.Mutex
	sessions map[string]*webauthn.SessionData
}

// pairingUser adapts a pairing code into the webauthn.User interface; a
// pairing confirmation has no durable credential store of its own, since the
// long-lived identity lives in mobile_devices once the claim succeeds.
type pairingUser struct {
	id          []byte
	name        string
	credentials []webauthn.Credential
}

func (u *pairingUser) WebAuthnID() []byte                       { return u.id }
func (u *pairingUser) WebAuthnName() string                     { return u.name }
func (u *pairingUser) WebAuthnDisplayName() string               { return u.name }
func (u *pairingUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// NewWebAuthnPairing configures a relying party bound to rpID/origins.
// masterSecret is never used directly as a signing key; issueConfirmationToken
// derives a fresh per-pairing-code key from it via HKDF-SHA256, the same
// derivation shape internal/auth/crypto.go uses for its X25519-ECDH shared
// secret (salt + info-tagged HKDF over a seed, here a server-held secret
// instead of an ECDH output since there is no peer public key to agree on).
func NewWebAuthnPairing(rpDisplayName, rpID string, origins []string, masterSecret []byte) (*WebAuthnPairing, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigins:     origins,
	})
	if err != nil {
		return nil, err
	}
	return &WebAuthnPairing{
		wa:           wa,
		masterSecret: masterSecret,
		sessions:     make(map[string]*webauthn.SessionData),
	}, nil
}

// confirmationKey derives a 32-byte HMAC key scoped to one pairing code so a
// leaked token for one pairing ceremony can't be replayed against another,
// mirroring crypto.go's DeriveSharedKey(shared, salt, info) → HKDF shape.
func (p *WebAuthnPairing) confirmationKey(pairCode string) ([]byte, error) {
	salt := []byte(pairCode)
	kdf := hkdf.New(sha256.New, p.masterSecret, salt, []byte("codeinterfacex-mobile-pairing"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// BeginConfirmation starts a WebAuthn ceremony scoped to pairCode, returning
// the CredentialCreation options the mobile browser turns into a
// navigator.credentials.create() call.
func (p *WebAuthnPairing) BeginConfirmation(pairCode string) (*protocol.CredentialCreation, error) {
	user := &pairingUser{id: []byte(pairCode), name: pairCode}
	creation, session, err := p.wa.BeginRegistration(user)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.sessions[pairCode] = session
	p.mu.Unlock()
	return creation, nil
}

// FinishConfirmation completes the ceremony from the raw upgrade request
// body and, on success, mints a short-lived JWT the caller can require
// alongside the pair/claim request.
func (p *WebAuthnPairing) FinishConfirmation(pairCode string, r *http.Request) (string, error) {
	p.mu.Lock()
	session, ok := p.sessions[pairCode]
	delete(p.sessions, pairCode)
	p.mu.Unlock()
	if !ok {
		return "", errors.New("no pending confirmation for pairing code")
	}

	user := &pairingUser{id: []byte(pairCode), name: pairCode}
	if _, err := p.wa.FinishRegistration(user, *session, r); err != nil {
		return "", err
	}
	return p.issueConfirmationToken(pairCode)
}

func (p *WebAuthnPairing) issueConfirmationToken(pairCode string) (string, error) {
	key, err := p.confirmationKey(pairCode)
	if err != nil {
		return "", err
	}
	claims := jwt.RegisteredClaims{
		Subject:   pairCode,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(key)
}

// VerifyConfirmationToken checks a confirmation JWT and returns the pairing
// code it was issued for. The pairing code travels in the claim itself, so
// the per-code HKDF key can only be reconstructed once the caller tells us
// which code to check it against.
func (p *WebAuthnPairing) VerifyConfirmationToken(tokenStr, pairCode string) (string, error) {
	key, err := p.confirmationKey(pairCode)
	if err != nil {
		return "", err
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil || !token.Valid || claims.Subject != pairCode {
		return "", errors.New("invalid or expired confirmation token")
	}
	return claims.Subject, nil
}
