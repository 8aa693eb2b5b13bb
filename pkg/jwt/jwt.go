package jwtutil

import (
	"crypto/rsa"
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrMissingSubject = errors.New("token has no user id")

// Claims carries the identity bound to a chat connection or API call.
type Claims struct {
	UserID       string `json:"uid"`
	Role         string `json:"role"`
	Username     string `json:"name,omitempty"`
	LegacyUserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

func NewClaims(userID, role, username string, expiry time.Duration) *Claims {
	now := time.Now().UTC()
	return &Claims{
		UserID:   userID,
		Role:     role,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
}

func GenerateAccessToken(claims *Claims, privateKey *rsa.PrivateKey) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(privateKey)
}

func ParseAccessToken(tokenStr string, publicKey *rsa.PublicKey) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenStr), claims, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	claims.normalize()
	if claims.UserID == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

func ParsePrivateKey(pem []byte) (*rsa.PrivateKey, error) {
	return jwt.ParseRSAPrivateKeyFromPEM(pem)
}

func ParsePublicKey(pem []byte) (*rsa.PublicKey, error) {
	return jwt.ParseRSAPublicKeyFromPEM(pem)
}

func (c *Claims) normalize() {
	if c.UserID == "" {
		c.UserID = c.LegacyUserID
	}
	if c.UserID == "" {
		c.UserID = c.Subject
	}
	c.UserID = strings.TrimSpace(c.UserID)
}
