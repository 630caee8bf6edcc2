package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/examrunner/internal/model"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter) (string, error) {
	token, err := generateCSRFToken()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func bearerToken(r *http.Request) string {
	v := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(v, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

// csrfMiddleware applies the double-submit check to unsafe requests that
// authenticate with the session cookie. Bearer requests carry no ambient
// credentials and are exempt.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			if c, err := r.Cookie(csrfCookieName); err != nil || c.Value == "" {
				if _, err := h.setCSRFCookie(w); err != nil {
					slog.Error("failed to generate CSRF token", "error", err)
					writeError(w, r, err)
					return
				}
			}
			next.ServeHTTP(w, r)
			return
		}

		if bearerToken(r) != "" {
			next.ServeHTTP(w, r)
			return
		}
		if c, err := r.Cookie(sessionCookieName); err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing")
			writeError(w, r, errCSRF)
			return
		}
		sent := r.Header.Get(csrfHeaderName)
		if sent == "" {
			sent = r.FormValue("csrf_token")
		}
		if len(sent) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch")
			writeError(w, r, errCSRF)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the user from a bearer token or the session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := h.userFromRequest(r)
		if user == nil {
			writeError(w, r, model.ErrAuthRequired)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) userFromRequest(r *http.Request) *model.User {
	var userID int64
	if tok := bearerToken(r); tok != "" && h.tokens != nil {
		claims, err := h.tokens.Parse(tok)
		if err != nil {
			slog.Debug("rejected bearer token", "error", err)
			return nil
		}
		if userID, err = claims.UserID(); err != nil {
			return nil
		}
	} else {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			return nil
		}
		authSess, err := h.store.GetAuthSession(cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			return nil
		}
		if authSess == nil {
			return nil
		}
		userID = authSess.UserID
	}

	user, err := h.store.GetUserByID(userID)
	if err != nil {
		slog.Error("failed to get user", "id", userID, "error", err)
		return nil
	}
	if user == nil || !user.Active {
		return nil
	}
	return user
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, model.ErrAuthRequired)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, errForbidden)
		})
	}
}

// userJSON is the public rendering of a user.
type userJSON struct {
	ID          int64          `json:"id"`
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Role        model.UserRole `json:"role"`
	Active      bool           `json:"active"`
	CreatedAt   time.Time      `json:"created_at"`
}

func newUserJSON(u *model.User) userJSON {
	return userJSON{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Active:      u.Active,
		CreatedAt:   u.CreatedAt,
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readCredentials accepts a JSON body or form values.
func readCredentials(w http.ResponseWriter, r *http.Request) (credentials, error) {
	var c credentials
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		err := decodeJSON(w, r, &c)
		return c, err
	}
	c.Username = r.FormValue("username")
	c.Password = r.FormValue("password")
	return c, nil
}

// authenticate checks credentials. Unknown users and wrong passwords look the same.
func (h *Handler) authenticate(c credentials) (*model.User, error) {
	user, err := h.store.GetUserByUsername(c.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(c.Password)); err != nil {
		return nil, errBadCredentials
	}
	if !user.Active {
		return nil, errAccountDisabled
	}
	return user, nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.authenticate(c)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.store.CreateAuthSession(user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	csrf, err := h.setCSRFCookie(w)
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserJSON(user), "csrf_token": csrf})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.authenticate(c)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, exp, err := h.tokens.Issue(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   exp.UTC(),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.DeleteAuthSession(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	w.WriteHeader(http.StatusNoContent)
}
