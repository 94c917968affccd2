// Package auth issues and checks the staff tokens. Students and guests pay
// without an account and never hold one.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	Issuer = "muranga-mess"

	AccessTTL  = 15 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

var ErrWrongTokenKind = errors.New("wrong token kind")

// Claims identify a staff member on an access token.
type Claims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

func sign(secret string, claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    Issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func GenerateToken(secret string, userID uuid.UUID, role string) (string, error) {
	return sign(secret, Claims{
		UserID:           userID,
		Role:             role,
		RegisteredClaims: registered("", AccessTTL),
	})
}

// GenerateRefreshToken carries only the staff id as subject, so it can never
// pass ValidateToken.
func GenerateRefreshToken(secret string, userID uuid.UUID) (string, error) {
	return sign(secret, registered(userID.String(), RefreshTTL))
}

func parse(secret, tokenStr string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	return nil
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil || claims.Subject != "" {
		return nil, ErrWrongTokenKind
	}
	return claims, nil
}

// ValidateRefreshToken returns the staff id a refresh token was issued to.
func ValidateRefreshToken(secret, tokenStr string) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	if err := parse(secret, tokenStr, claims); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrWrongTokenKind
	}
	return id, nil
}
