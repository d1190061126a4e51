package collab

import (
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the identity hints carried by the collaboration token.
type TokenClaims struct {
	UserId   string
	Username string
}

// ParseTokenUnverified extracts identity claims without verifying the
// signature. The server is the only party that verifies the token; the
// client just needs a default identity when none was configured.
func ParseTokenUnverified(token string) (*TokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, errors.New("unexpected claims type")
	}

	tokenClaims := &TokenClaims{}
	if userId, ok := claims["user_id"].(string); ok {
		tokenClaims.UserId = userId
	} else if sub, ok := claims["sub"].(string); ok {
		tokenClaims.UserId = sub
	}
	if username, ok := claims["username"].(string); ok {
		tokenClaims.Username = username
	} else if name, ok := claims["name"].(string); ok {
		tokenClaims.Username = name
	}
	return tokenClaims, nil
}
