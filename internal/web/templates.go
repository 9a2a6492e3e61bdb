// ABOUTME: Template rendering functions for the portal UI
// ABOUTME: Loads templates from embedded filesystem and renders them

package web

import (
	"html/template"
	"net/http"

	"github.com/2389/passkey-portal/internal/dashboard"
)

// Template data types
type registerForm struct {
	Username    string
	DisplayName string
}

type loginData struct {
	Title      string
	Error      string
	Registered bool
	CSRFToken  string
}

type registerData struct {
	Title     string
	Form      registerForm
	Error     string
	CSRFToken string
}

type dashboardData struct {
	Title     string
	View      *dashboard.View
	CSRFToken string
}

type passkeyRegisterData struct {
	Title     string
	Username  string
	CSRFToken string
}

// renderLoginPage renders the login page
func (p *Portal) renderLoginPage(w http.ResponseWriter, errorMsg string, registered bool, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/login.html"))

	data := loginData{
		Title:      "Login",
		Error:      errorMsg,
		Registered: registered,
		CSRFToken:  csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Error("failed to render login page", "error", err)
	}
}

// renderRegisterPage renders the account registration page
func (p *Portal) renderRegisterPage(w http.ResponseWriter, form registerForm, errorMsg, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/register.html"))

	data := registerData{
		Title:     "Create Account",
		Form:      form,
		Error:     errorMsg,
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Error("failed to render register page", "error", err)
	}
}

// renderDashboard renders the main dashboard with the user's passkeys
func (p *Portal) renderDashboard(w http.ResponseWriter, view *dashboard.View, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/dashboard.html"))

	data := dashboardData{
		Title:     "Dashboard",
		View:      view,
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Error("failed to render dashboard", "error", err)
	}
}

// renderPasskeyRegisterPage renders the passkey enrollment page
func (p *Portal) renderPasskeyRegisterPage(w http.ResponseWriter, username, csrfToken string) {
	tmpl := template.Must(template.ParseFS(templateFS, "templates/base.html", "templates/register-passkey.html"))

	data := passkeyRegisterData{
		Title:     "Register Passkey",
		Username:  username,
		CSRFToken: csrfToken,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		p.logger.Error("failed to render passkey register page", "error", err)
	}
}
