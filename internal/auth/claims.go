package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
// Role decides which side of a connection the participant acts on.
type Claims struct {
	jwt.RegisteredClaims

	ParticipantID string    `json:"participant_id"`
	Role          string    `json:"role"`
	TokenType     TokenType `json:"token_type"`
}
