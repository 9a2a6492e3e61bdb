// ABOUTME: WebAuthn/Passkey ceremony support for the portal
// ABOUTME: Implements registration and login flows using go-webauthn library

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/passkey-portal/internal/store"
)

// webAuthnUser wraps a CredentialOwner to implement webauthn.User interface.
type webAuthnUser struct {
	owner *store.CredentialOwner
	creds []*store.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.owner.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	return u.owner.Username
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.owner.DisplayName != "" {
		return u.owner.DisplayName
	}
	return u.owner.Username
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
			Flags: webauthn.CredentialFlags{
				BackupEligible: c.BackupEligible,
				BackupState:    c.BackupState,
			},
		}
		// Parse transports if available
		if c.Transports != "" {
			var transports []protocol.AuthenticatorTransport
			_ = json.Unmarshal([]byte(c.Transports), &transports)
			creds[i].Transport = transports
		}
	}
	return creds
}

// sessionData stores WebAuthn session data for in-progress registrations/logins.
type sessionData struct {
	session   *webauthn.SessionData
	username  string
	expiresAt time.Time
}

// webAuthnSessionStore is a simple in-memory session store for WebAuthn challenges.
// Challenges are short-lived and per-node, so they don't go through SQLite.
type webAuthnSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionData // keyed by session token
	cancel   context.CancelFunc
}

func newWebAuthnSessionStore() *webAuthnSessionStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &webAuthnSessionStore{
		sessions: make(map[string]*sessionData),
		cancel:   cancel,
	}
	// Start cleanup goroutine
	go s.cleanupLoop(ctx)
	return s
}

// Close stops the cleanup goroutine.
func (s *webAuthnSessionStore) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *webAuthnSessionStore) Set(token string, session *webauthn.SessionData, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = &sessionData{
		session:   session,
		username:  username,
		expiresAt: time.Now().Add(5 * time.Minute),
	}
}

func (s *webAuthnSessionStore) Get(token string) (*webauthn.SessionData, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.sessions[token]
	if !ok || time.Now().After(data.expiresAt) {
		return nil, "", false
	}
	return data.session, data.username, true
}

func (s *webAuthnSessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *webAuthnSessionStore) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			now := time.Now()
			for k, v := range s.sessions {
				if now.After(v.expiresAt) {
					delete(s.sessions, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// deriveWebAuthnConfig extracts rpID and rpOrigins from a base URL.
// Returns defaults if URL is empty or invalid.
func deriveWebAuthnConfig(baseURL string) (rpID string, rpOrigins []string) {
	// Defaults for localhost development
	rpID = "localhost"
	rpOrigins = []string{"http://localhost", "https://localhost"}

	if baseURL == "" {
		return rpID, rpOrigins
	}

	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return rpID, rpOrigins
	}

	host := parsed.Hostname()
	if host == "" {
		return rpID, rpOrigins
	}

	rpID = host
	rpOrigins = []string{baseURL}
	// Also allow both http and https variants
	if parsed.Scheme == "https" {
		rpOrigins = append(rpOrigins, "http://"+parsed.Host)
	} else {
		rpOrigins = append(rpOrigins, "https://"+parsed.Host)
	}
	return rpID, rpOrigins
}

// initWebAuthn initializes the WebAuthn configuration.
func (p *Portal) initWebAuthn() error {
	rpID, rpOrigins := deriveWebAuthnConfig(p.config.BaseURL)

	rpDisplayName := p.config.RPDisplayName
	if rpDisplayName == "" {
		rpDisplayName = "passkey portal"
	}

	wconfig := &webauthn.Config{
		RPDisplayName: rpDisplayName,
		RPID:          rpID,
		RPOrigins:     rpOrigins,
	}

	w, err := webauthn.New(wconfig)
	if err != nil {
		return err
	}

	p.webauthn = w
	p.webauthnSessions = newWebAuthnSessionStore()
	return nil
}

// ownerForSession loads (or lazily creates) the credential owner for the
// authenticated session, along with its registered credentials.
func (p *Portal) ownerForSession(ctx context.Context, session *store.Session) (*webAuthnUser, error) {
	acct, err := p.store.GetAccountByUsername(ctx, session.Username)
	if err != nil {
		return nil, err
	}

	owner, err := p.store.GetOrCreateOwner(ctx, acct.Username, acct.DisplayName)
	if err != nil {
		return nil, err
	}

	creds, err := p.store.ListCredentialsByOwner(ctx, owner.ID)
	if err != nil {
		p.logger.Error("failed to list existing credentials", "error", err)
		creds = nil
	}

	return &webAuthnUser{owner: owner, creds: creds}, nil
}

// handleWebAuthnRegisterBegin starts the passkey registration process.
func (p *Portal) handleWebAuthnRegisterBegin(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	session := sessionFromContext(r)
	if session == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	waUser, err := p.ownerForSession(r.Context(), session)
	if err != nil {
		p.logger.Error("failed to resolve credential owner", "error", err)
		http.Error(w, "Failed to start registration", http.StatusInternalServerError)
		return
	}

	options, waSession, err := p.webauthn.BeginRegistration(waUser)
	if err != nil {
		p.logger.Error("failed to begin registration", "error", err)
		http.Error(w, "Failed to start registration", http.StatusInternalServerError)
		return
	}

	// Store session data
	sessionToken, err := generateSecureToken(32)
	if err != nil {
		http.Error(w, "Failed to generate session", http.StatusInternalServerError)
		return
	}
	p.webauthnSessions.Set(sessionToken, waSession, session.Username)

	// Return options with session token
	response := struct {
		Options      *protocol.CredentialCreation `json:"options"`
		SessionToken string                       `json:"sessionToken"`
	}{
		Options:      options,
		SessionToken: sessionToken,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		p.logger.Debug("failed to encode response", "error", err)
	}
}

// webAuthnFinishRequest holds parsed ceremony completion request data.
type webAuthnFinishRequest struct {
	sessionToken string
	label        string
	response     json.RawMessage
}

// parseWebAuthnFinishRequest parses and validates a ceremony completion request.
func parseWebAuthnFinishRequest(r *http.Request) (*webAuthnFinishRequest, error) {
	var req struct {
		SessionToken string          `json:"sessionToken"`
		Label        string          `json:"label"`
		Response     json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &webAuthnFinishRequest{sessionToken: req.SessionToken, label: req.Label, response: req.Response}, nil
}

// storeCredential persists a newly verified credential for an owner.
func (p *Portal) storeCredential(ctx context.Context, ownerID, label string, cred *webauthn.Credential) error {
	transportsJSON, err := json.Marshal(cred.Transport)
	if err != nil {
		return err
	}

	if label == "" {
		label = "Passkey"
	}

	return p.store.CreateCredential(ctx, &store.Credential{
		CredentialID:    cred.ID,
		OwnerID:         ownerID,
		Label:           label,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      string(transportsJSON),
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		CreatedAt:       time.Now(),
	})
}

// handleWebAuthnRegisterFinish completes the passkey registration process.
func (p *Portal) handleWebAuthnRegisterFinish(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	session := sessionFromContext(r)
	if session == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return
	}

	req, err := parseWebAuthnFinishRequest(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	waSession, sessionUsername, ok := p.webauthnSessions.Get(req.sessionToken)
	if !ok || sessionUsername != session.Username {
		http.Error(w, "Invalid or expired session", http.StatusBadRequest)
		return
	}
	p.webauthnSessions.Delete(req.sessionToken)

	parsedResponse, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(req.response))
	if err != nil {
		p.logger.Error("failed to parse registration response", "error", err)
		http.Error(w, "Invalid response", http.StatusBadRequest)
		return
	}

	waUser, err := p.ownerForSession(r.Context(), session)
	if err != nil {
		p.logger.Error("failed to resolve credential owner", "error", err)
		http.Error(w, "Failed to verify credential", http.StatusInternalServerError)
		return
	}

	credential, err := p.webauthn.CreateCredential(waUser, *waSession, parsedResponse)
	if err != nil {
		p.logger.Error("failed to create credential", "error", err)
		http.Error(w, "Failed to verify credential", http.StatusBadRequest)
		return
	}

	if err := p.storeCredential(r.Context(), waUser.owner.ID, req.label, credential); err != nil {
		p.logger.Error("failed to store credential", "error", err)
		http.Error(w, "Failed to save credential", http.StatusInternalServerError)
		return
	}

	p.logger.Info("passkey registered", "username", session.Username)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		p.logger.Debug("failed to encode response", "error", err)
	}
}

// handleWebAuthnLoginBegin starts the passkey login process.
func (p *Portal) handleWebAuthnLoginBegin(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	// For discoverable credentials (resident keys), we don't need a username
	options, waSession, err := p.webauthn.BeginDiscoverableLogin()
	if err != nil {
		p.logger.Error("failed to begin login", "error", err)
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}

	// Store session data (no username yet - will be determined from credential)
	sessionToken, err := generateSecureToken(32)
	if err != nil {
		http.Error(w, "Failed to generate session", http.StatusInternalServerError)
		return
	}
	p.webauthnSessions.Set(sessionToken, waSession, "")

	response := struct {
		Options      *protocol.CredentialAssertion `json:"options"`
		SessionToken string                        `json:"sessionToken"`
	}{
		Options:      options,
		SessionToken: sessionToken,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		p.logger.Debug("failed to encode response", "error", err)
	}
}

// lookupCredentialOwner finds the credential and owner for a login attempt.
func (p *Portal) lookupCredentialOwner(ctx context.Context, credentialID []byte) (*store.Credential, *store.CredentialOwner, error) {
	cred, err := p.store.GetCredentialByID(ctx, credentialID)
	if err != nil {
		return nil, nil, err
	}
	owner, err := p.store.GetOwnerByID(ctx, cred.OwnerID)
	if err != nil {
		return nil, nil, err
	}
	return cred, owner, nil
}

// handleLookupError writes the appropriate HTTP error for a credential lookup failure.
func (p *Portal) handleLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrCredentialNotFound) || errors.Is(err, store.ErrOwnerNotFound) {
		http.Error(w, "Unknown credential", http.StatusUnauthorized)
	} else {
		p.logger.Error("failed to lookup credential", "error", err)
		http.Error(w, "Failed to verify credential", http.StatusInternalServerError)
	}
}

// makeCredentialFinder creates a credential finder function for WebAuthn validation.
func makeCredentialFinder(waUser *webAuthnUser, ownerID string) func(rawID, userHandle []byte) (webauthn.User, error) {
	return func(rawID, userHandle []byte) (webauthn.User, error) {
		if len(userHandle) > 0 && string(userHandle) != ownerID {
			return nil, errors.New("user handle mismatch")
		}
		return waUser, nil
	}
}

// finalizeWebAuthnLogin updates sign count and last-used, then creates the session.
func (p *Portal) finalizeWebAuthnLogin(w http.ResponseWriter, r *http.Request, credentialID []byte, signCount uint32, username string) error {
	if err := p.store.UpdateCredentialSignCount(r.Context(), credentialID, signCount); err != nil {
		p.logger.Warn("failed to update sign count", "error", err)
	}
	if err := p.store.TouchCredentialLastUsed(r.Context(), credentialID); err != nil {
		p.logger.Warn("failed to update last used", "error", err)
	}
	return p.createSession(w, r, username, "passkey")
}

// handleWebAuthnLoginFinish completes the passkey login process.
func (p *Portal) handleWebAuthnLoginFinish(w http.ResponseWriter, r *http.Request) {
	if p.webauthn == nil {
		http.Error(w, "WebAuthn not configured", http.StatusServiceUnavailable)
		return
	}

	req, err := parseWebAuthnFinishRequest(r)
	if err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	waSession, _, ok := p.webauthnSessions.Get(req.sessionToken)
	if !ok {
		http.Error(w, "Invalid or expired session", http.StatusBadRequest)
		return
	}
	p.webauthnSessions.Delete(req.sessionToken)

	parsedResponse, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(req.response))
	if err != nil {
		p.logger.Error("failed to parse login response", "error", err)
		http.Error(w, "Invalid response", http.StatusBadRequest)
		return
	}

	_, owner, err := p.lookupCredentialOwner(r.Context(), parsedResponse.RawID)
	if err != nil {
		p.handleLookupError(w, err)
		return
	}

	allCreds, err := p.store.ListCredentialsByOwner(r.Context(), owner.ID)
	if err != nil {
		p.logger.Error("failed to list credentials", "error", err)
		allCreds = nil
	}
	waUser := &webAuthnUser{owner: owner, creds: allCreds}

	credential, err := p.webauthn.ValidateDiscoverableLogin(makeCredentialFinder(waUser, owner.ID), *waSession, parsedResponse)
	if err != nil {
		p.logger.Error("failed to validate login", "error", err)
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	if err := p.finalizeWebAuthnLogin(w, r, credential.ID, credential.Authenticator.SignCount, owner.Username); err != nil {
		p.logger.Error("failed to create session", "error", err)
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	p.logger.Info("passkey login successful", "username", owner.Username)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok", "redirect": "/dashboard"}); err != nil {
		p.logger.Debug("failed to encode response", "error", err)
	}
}
