// Package identity authenticates actors and resolves their role. The
// identity-to-role mapping is explicit configuration; anything unlisted is a
// recipient.
package identity

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	RoleCourier   = "COURIER"
	RoleRecipient = "RECIPIENT"
	RoleMonitor   = "MONITOR"
)

var ErrInvalidCredential = errors.New("invalid credential")

type Identity struct {
	Subject string
	Email   string
	Role    string
}

type Verifier interface {
	Verify(credential string) (Identity, error)
}

// JWTVerifier validates HS256 bearer tokens. Role lookup tries the subject
// first, then the email, case-insensitively on the email side.
type JWTVerifier struct {
	secret []byte
	roles  map[string]string
}

func NewJWTVerifier(secret string, roles map[string]string) *JWTVerifier {
	normalized := make(map[string]string, len(roles))
	for id, role := range roles {
		normalized[strings.ToLower(id)] = strings.ToUpper(role)
	}
	return &JWTVerifier{secret: []byte(secret), roles: normalized}
}

func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, errors.WithMessage(ErrInvalidCredential, err.Error())
	}
	if !token.Valid {
		return Identity{}, ErrInvalidCredential
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	if sub == "" && email == "" {
		return Identity{}, errors.WithMessage(ErrInvalidCredential, "token carries no subject")
	}
	return Identity{Subject: sub, Email: email, Role: v.resolveRole(sub, email)}, nil
}

func (v *JWTVerifier) resolveRole(sub, email string) string {
	if role, ok := v.roles[strings.ToLower(sub)]; ok && sub != "" {
		return role
	}
	if role, ok := v.roles[strings.ToLower(email)]; ok && email != "" {
		return role
	}
	return RoleRecipient
}
