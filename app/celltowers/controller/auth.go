package controller

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const sessionCookie = "ct_session"

// Auth guards the admin endpoints. Either the bearer AdminToken or a session cookie
// issued by /api/auth/login is accepted.
type Auth struct {
	AdminToken string
	User       string
	// PasswordHash is the bcrypt hash of the admin password.
	PasswordHash []byte
	JWTSecret    []byte
	SessionTTL   time.Duration
}

// HashOrRead returns password when it already is a bcrypt hash, otherwise its hash.
func HashOrRead(password string) ([]byte, error) {
	if strings.HasPrefix(password, "$2a$") || strings.HasPrefix(password, "$2b$") || strings.HasPrefix(password, "$2y$") {
		return []byte(password), nil // already bcrypt
	}
	return bcrypt.GenerateFromPassword([]byte(password), 10)
}

// ValidateToken checks if the Authorization header contains a valid AdminToken
func (c *Controller) ValidateToken(r *http.Request) bool {
	if c.Auth.AdminToken == "" {
		return false
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		return subtle.ConstantTimeCompare([]byte(token), []byte(c.Auth.AdminToken)) == 1
	}
	return false
}

// sessionUser returns the subject of a valid session cookie.
func (c *Controller) sessionUser(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil || len(c.Auth.JWTSecret) == 0 {
		return "", false
	}
	tok, err := jwt.Parse(cookie.Value, func(t *jwt.Token) (any, error) { return c.Auth.JWTSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return "", false
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, sub != ""
}

// RequireAdmin middleware
func (c *Controller) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.ValidateToken(r) {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := c.sessionUser(r); ok {
			next.ServeHTTP(w, r)
			return
		}
		c.writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin checks the admin credentials and issues a session cookie.
func (c *Controller) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Username != c.Auth.User || len(c.Auth.PasswordHash) == 0 ||
		bcrypt.CompareHashAndPassword(c.Auth.PasswordHash, []byte(req.Password)) != nil {
		c.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := c.IssueSession(w, req.Username); err != nil {
		c.writeError(w, http.StatusInternalServerError, "failed to issue session")
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// HandleLogout clears the session cookie.
func (c *Controller) HandleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	c.writeJSON(w, http.StatusOK, map[string]string{"ok": "1"})
}

// IssueSession issues a session cookie
func (c *Controller) IssueSession(w http.ResponseWriter, username string) error {
	ttl := c.Auth.SessionTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"exp": time.Now().Add(ttl).Unix(),
		"iat": time.Now().Unix(),
	})
	ss, err := token.SignedString(c.Auth.JWTSecret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    ss,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("ENVIRONMENT") == "production",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(ttl.Seconds()),
	})
	return nil
}

// currentUser returns the username associated with the request when available.
// API tokens are treated as admin-equivalent and return "api-token".
func (c *Controller) currentUser(r *http.Request) string {
	if c.ValidateToken(r) {
		return "api-token"
	}
	if sub, ok := c.sessionUser(r); ok {
		return sub
	}
	return "unknown"
}
