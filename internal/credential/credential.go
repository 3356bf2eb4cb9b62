// Package credential resolves the bearer token and user id the agent
// authenticates with. The agent only reads credentials; signing in and
// storing them is owned by the host application.
package credential

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Provider is the credential collaborator used by the socket manager, the
// HTTP client and the Kafka mirror. An empty token means "not signed in".
type Provider interface {
	Token(ctx context.Context) (string, error)
	UserID(ctx context.Context) (string, error)
}

// Static serves a fixed token and user id taken from configuration.
type Static struct {
	token  string
	userID string
}

// NewStatic creates a Static provider. When userID is empty it is taken
// from the token's "sub" claim.
func NewStatic(token, userID string) *Static {
	token = strings.TrimSpace(token)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = SubjectFromToken(token)
	}
	return &Static{token: token, userID: userID}
}

// Token returns the configured token; empty when none was set.
func (s *Static) Token(context.Context) (string, error) { return s.token, nil }

// UserID returns the configured user id or the token subject.
func (s *Static) UserID(context.Context) (string, error) { return s.userID, nil }

// SubjectFromToken returns the "sub" claim of a JWT without verifying it.
// The backend verifies the token; the agent only needs the id for labelling.
func SubjectFromToken(token string) string {
	if token == "" {
		return ""
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ""
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}
