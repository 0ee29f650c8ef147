package bus

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// bearerToken pulls the token from the Authorization header, falling back to
// the ?token query param browsers use when headers are not available on a
// WebSocket dial.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// verifyToken validates an HS256 bearer token against secret. An empty
// secret disables verification (local development).
func verifyToken(r *http.Request, secret string) error {
	if secret == "" {
		return nil
	}
	raw := bearerToken(r)
	if raw == "" {
		return ErrUnauthorized
	}
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return ErrUnauthorized
	}
	return nil
}
