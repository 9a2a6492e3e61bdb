// ABOUTME: Web UI package for passkey-portal: routes, sessions, and authentication
// ABOUTME: Provides password login, registration, dashboard, and passkey management

package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/passkey-portal/internal/account"
	"github.com/2389/passkey-portal/internal/dashboard"
	"github.com/2389/passkey-portal/internal/passkey"
	"github.com/2389/passkey-portal/internal/principal"
	"github.com/2389/passkey-portal/internal/store"
)

// Username validation regex: alphanumeric + underscores, 3-32 characters
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,31}$`)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "portal_session"

	// CSRFCookieName is the name of the CSRF token cookie
	CSRFCookieName = "portal_csrf"

	// SessionDuration is how long sessions last
	SessionDuration = 7 * 24 * time.Hour // 7 days
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const sessionContextKey contextKey = "portal_session"
const csrfContextKey contextKey = "csrf_token"

// Config holds web UI configuration
type Config struct {
	// BaseURL is the external URL of the portal; it drives WebAuthn
	// relying-party derivation.
	BaseURL string
	// RPDisplayName is shown by authenticators during ceremonies.
	RPDisplayName string
}

// Portal handles web routes and authentication
type Portal struct {
	store            store.Store
	accounts         *account.Service
	passkeys         *passkey.Service
	dashboards       *dashboard.Aggregator
	config           Config
	logger           *slog.Logger
	webauthn         *webauthn.WebAuthn
	webauthnSessions *webAuthnSessionStore
	observer         Observer
}

// New creates a new Portal handler. The observer may be nil, in which case
// WebAuthn request observation is disabled.
func New(st store.Store, cfg Config, obs Observer) *Portal {
	passkeys := passkey.NewService(st)
	p := &Portal{
		store:      st,
		accounts:   account.NewService(st),
		passkeys:   passkeys,
		dashboards: dashboard.New(st, passkeys),
		config:     cfg,
		logger:     slog.Default().With("component", "web"),
		observer:   obs,
	}

	// Initialize WebAuthn (errors are logged but don't prevent startup)
	if err := p.initWebAuthn(); err != nil {
		p.logger.Warn("failed to initialize WebAuthn, passkey ceremonies disabled", "error", err)
	}

	return p
}

// Close cleans up portal resources
func (p *Portal) Close() {
	if p.webauthnSessions != nil {
		p.webauthnSessions.Close()
	}
}

// RegisterRoutes registers all portal routes on the given mux
func (p *Portal) RegisterRoutes(mux *http.ServeMux) {
	// Public routes (no auth required)
	mux.HandleFunc("GET /login", p.handleLoginPage)
	mux.HandleFunc("POST /login", p.handleLogin)
	mux.HandleFunc("GET /register", p.handleRegisterPage)
	mux.HandleFunc("POST /register", p.handleRegister)
	mux.HandleFunc("POST /webauthn/login/begin", p.observed(p.handleWebAuthnLoginBegin))
	mux.HandleFunc("POST /webauthn/login/finish", p.observed(p.handleWebAuthnLoginFinish))

	// Protected routes (auth required)
	mux.HandleFunc("GET /dashboard", p.requireAuth(p.handleDashboard))
	mux.HandleFunc("GET /{$}", p.requireAuth(p.handleDashboard))
	mux.HandleFunc("POST /logout", p.requireAuth(p.handleLogout))
	mux.HandleFunc("DELETE /passkey/{credentialId}", p.requireAuth(p.handleDeletePasskey))
	mux.HandleFunc("GET /passkey/register", p.requireAuth(p.handlePasskeyRegisterPage))
	mux.HandleFunc("POST /webauthn/register/begin", p.requireAuth(p.observed(p.handleWebAuthnRegisterBegin)))
	mux.HandleFunc("POST /webauthn/register/finish", p.requireAuth(p.observed(p.handleWebAuthnRegisterFinish)))

	p.logger.Info("portal routes registered")
}

// requireAuth wraps a handler to require authentication
func (p *Portal) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := p.getSession(r)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		// Add session to context
		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		next(w, r.WithContext(ctx))
	}
}

// getSession retrieves the session from the session cookie
func (p *Portal) getSession(r *http.Request) (*store.Session, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, err
	}
	return p.store.GetSession(r.Context(), cookie.Value)
}

// sessionFromContext retrieves the authenticated session from the request context
func sessionFromContext(r *http.Request) *store.Session {
	session, _ := r.Context().Value(sessionContextKey).(*store.Session)
	return session
}

// principalFromSession reconstructs the authenticated principal from the
// session's recorded login method.
func principalFromSession(session *store.Session) principal.Principal {
	if session.AuthMethod == "passkey" {
		return principal.PasskeyIdentity{Name: session.Username}
	}
	return principal.PasswordIdentity{Username: session.Username}
}

// getCSRFToken retrieves the CSRF token from the request context
func getCSRFToken(r *http.Request) string {
	token, _ := r.Context().Value(csrfContextKey).(string)
	return token
}

// ensureCSRFToken generates a CSRF token if not present and adds it to context
func (p *Portal) ensureCSRFToken(w http.ResponseWriter, r *http.Request) (*http.Request, string) {
	// Try to get existing token from cookie
	cookie, err := r.Cookie(CSRFCookieName)
	if err == nil && cookie.Value != "" {
		ctx := context.WithValue(r.Context(), csrfContextKey, cookie.Value)
		return r.WithContext(ctx), cookie.Value
	}

	// Generate new token
	token, err := generateSecureToken(32)
	if err != nil {
		p.logger.Error("failed to generate CSRF token", "error", err)
		token = "" // Will fail validation, but won't crash
	}

	// Set cookie
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	ctx := context.WithValue(r.Context(), csrfContextKey, token)
	return r.WithContext(ctx), token
}

// validateCSRF checks the CSRF token from form against cookie
func (p *Portal) validateCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}

	formToken := r.FormValue("csrf_token")
	if formToken == "" {
		// Also check header for fetch requests
		formToken = r.Header.Get("X-CSRF-Token")
	}

	return formToken != "" && formToken == cookie.Value
}

// createSession creates a new session for a username and sets the cookie
func (p *Portal) createSession(w http.ResponseWriter, r *http.Request, username, authMethod string) error {
	sessionID, err := generateSecureToken(32)
	if err != nil {
		return err
	}

	session := &store.Session{
		ID:         sessionID,
		Username:   username,
		AuthMethod: authMethod,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(SessionDuration),
	}

	if err := p.store.CreateSession(r.Context(), session); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// handleLoginPage renders the login page
func (p *Portal) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	// If already logged in, redirect to dashboard
	if _, err := p.getSession(r); err == nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	registered := r.URL.Query().Has("registered")

	// Ensure CSRF token is set
	r, csrfToken := p.ensureCSRFToken(w, r)
	p.renderLoginPage(w, "", registered, csrfToken)
}

// handleLogin processes login form submission
func (p *Portal) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Invalid form data", false, csrfToken)
		return
	}

	// Validate CSRF token
	if !p.validateCSRF(r) {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Invalid request, please try again", false, csrfToken)
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	if username == "" || password == "" {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Username and password required", false, csrfToken)
		return
	}

	acct, err := p.store.GetAccountByUsername(r.Context(), username)

	// Use a dummy hash for timing-safe comparison when the account doesn't
	// exist. This prevents timing attacks that could enumerate usernames.
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			_, csrfToken := p.ensureCSRFToken(w, r)
			p.renderLoginPage(w, "Invalid username or password", false, csrfToken)
			return
		}
		p.logger.Error("failed to get account", "error", err)
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "An error occurred", false, csrfToken)
		return
	}

	if acct.PasswordHash == "" || !acct.Enabled {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Password login not enabled for this account", false, csrfToken)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "Invalid username or password", false, csrfToken)
		return
	}

	// Create session
	if err := p.createSession(w, r, acct.Username, "password"); err != nil {
		p.logger.Error("failed to create session", "error", err)
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderLoginPage(w, "An error occurred", false, csrfToken)
		return
	}

	p.logger.Info("password login successful", "username", username)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// handleLogout logs out the current user
func (p *Portal) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Parse form to get CSRF token
	if err := r.ParseForm(); err == nil {
		// Validate CSRF - but don't block logout if invalid (security trade-off)
		if !p.validateCSRF(r) {
			p.logger.Warn("logout request with invalid CSRF token")
		}
	}

	cookie, err := r.Cookie(SessionCookieName)
	if err == nil {
		_ = p.store.DeleteSession(r.Context(), cookie.Value)
	}

	// Clear session cookie
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})

	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// handleRegisterPage renders the registration page
func (p *Portal) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	r, csrfToken := p.ensureCSRFToken(w, r)
	p.renderRegisterPage(w, registerForm{}, "", csrfToken)
}

// handleRegister processes the registration form. On failure the form is
// re-rendered with the entered username and display name preserved; the
// password is never echoed back.
func (p *Portal) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderRegisterPage(w, registerForm{}, "Invalid form data", csrfToken)
		return
	}

	if !p.validateCSRF(r) {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderRegisterPage(w, registerForm{}, "Invalid request, please try again", csrfToken)
		return
	}

	form := registerForm{
		Username:    r.FormValue("username"),
		DisplayName: r.FormValue("displayName"),
	}
	password := r.FormValue("password")

	if form.Username == "" || password == "" {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderRegisterPage(w, form, "Username and password required", csrfToken)
		return
	}

	if errMsg := validateUsername(form.Username); errMsg != "" {
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderRegisterPage(w, form, errMsg, csrfToken)
		return
	}

	err := p.accounts.Register(r.Context(), form.Username, form.DisplayName, password)
	if err != nil {
		if errors.Is(err, account.ErrUsernameTaken) {
			_, csrfToken := p.ensureCSRFToken(w, r)
			p.renderRegisterPage(w, form, "Username already exists", csrfToken)
			return
		}
		p.logger.Error("failed to register account", "error", err)
		_, csrfToken := p.ensureCSRFToken(w, r)
		p.renderRegisterPage(w, form, "An error occurred", csrfToken)
		return
	}

	http.Redirect(w, r, "/login?registered", http.StatusSeeOther)
}

// handleDashboard renders the main dashboard
func (p *Portal) handleDashboard(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)
	r, csrfToken := p.ensureCSRFToken(w, r)

	view, err := p.dashboards.Build(r.Context(), principalFromSession(session))
	if err != nil {
		p.logger.Error("failed to build dashboard", "error", err, "username", session.Username)
		http.Error(w, "Failed to load dashboard", http.StatusInternalServerError)
		return
	}

	p.renderDashboard(w, view, csrfToken)
}

// handleDeletePasskey deletes one of the caller's passkeys. A credential
// that doesn't exist and a credential that belongs to someone else produce
// the same error response.
func (p *Portal) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	if !p.validateCSRF(r) {
		http.Error(w, "Invalid request", http.StatusForbidden)
		return
	}

	credentialID := r.PathValue("credentialId")
	if credentialID == "" {
		http.Error(w, "Credential ID required", http.StatusBadRequest)
		return
	}

	session := sessionFromContext(r)
	username, _ := principal.Resolve(principalFromSession(session))

	if err := p.passkeys.DeleteCredential(r.Context(), credentialID, username); err != nil {
		var perr *passkey.Error
		if errors.As(err, &perr) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Failed to delete passkey: " + perr.Message,
			})
			return
		}
		p.logger.Error("failed to delete passkey", "error", err, "username", username)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to delete passkey",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Passkey deleted successfully",
	})
}

// handlePasskeyRegisterPage renders the passkey registration page
func (p *Portal) handlePasskeyRegisterPage(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r)
	r, csrfToken := p.ensureCSRFToken(w, r)
	p.renderPasskeyRegisterPage(w, session.Username, csrfToken)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// validateUsername checks if username meets requirements
// Returns an error message or empty string if valid
func validateUsername(username string) string {
	if len(username) < 3 {
		return "Username must be at least 3 characters"
	}
	if len(username) > 32 {
		return "Username must be at most 32 characters"
	}
	if !usernameRegex.MatchString(username) {
		return "Username must start with a letter and contain only letters, numbers, and underscores"
	}
	return ""
}
