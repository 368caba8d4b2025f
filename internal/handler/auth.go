package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	appI18n "github.com/pavelanni/essayexam/internal/i18n"
	"github.com/pavelanni/essayexam/internal/model"
)

const (
	sessionCookieName = "session"
	defaultSessionTTL = 12 * time.Hour
)

// claims is the signed content of a session cookie. The subject is the user ID.
type claims struct {
	jwt.RegisteredClaims
	Role model.UserRole `json:"role"`
}

func (h *Handler) issueToken(u *model.User) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(h.config.SessionTTL)),
		},
		Role: u.Role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(h.config.SessionSecret)
}

func (h *Handler) parseToken(tokenStr string) (*claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return h.config.SessionSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return c, nil
}

// tokenFromRequest reads the session cookie, or a bearer token.
func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// requireAuth is middleware that checks for a valid session token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			writeError(w, r, errLogin)
			return
		}
		c, err := h.parseToken(tokenStr)
		if err != nil {
			slog.Debug("rejected session token", "error", err)
			writeError(w, r, errLogin)
			return
		}
		user, err := h.store.GetUserByID(c.Subject)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if user == nil || user.Role != c.Role {
			writeError(w, r, errLogin)
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				writeError(w, r, errLogin)
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

type loginRequest struct {
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.store.Authenticate(strings.TrimSpace(req.Name), strings.TrimSpace(req.Credential))
	if err != nil {
		slog.Info("login rejected", "name", req.Name, "error", err)
		writeError(w, r, err)
		return
	}

	token, err := h.issueToken(user)
	if err != nil {
		writeError(w, r, fmt.Errorf("issue token: %w", err))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.config.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("user logged in", "id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": appI18n.T(r.Context(), "LoggedOut")})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"user": model.UserFromContext(r.Context())})
}
