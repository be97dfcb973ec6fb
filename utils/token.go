package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mmdatafocus/rift_backend/config"
)

const defaultTokenHours = 24

// JwtCustomClaim carries the caller's user id in Subject.
type JwtCustomClaim struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (c *JwtCustomClaim) UserId() string {
	return c.Subject
}

func jwtSecret() ([]byte, error) {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		if config.IsProduction() {
			return nil, errors.New("API_SECRET is not set")
		}
		return []byte("rift-dev-secret"), nil
	}
	return []byte(secret), nil
}

func JwtGenerate(userId, role string) (string, error) {
	secret, err := jwtSecret()
	if err != nil {
		return "", err
	}
	hours := defaultTokenHours
	if v := os.Getenv("TOKEN_HOUR_LIFESPAN"); v != "" {
		if hours, err = strconv.Atoi(v); err != nil {
			return "", fmt.Errorf("TOKEN_HOUR_LIFESPAN: %w", err)
		}
	}
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(hours) * time.Hour)),
		},
	})
	return t.SignedString(secret)
}

func JwtValidate(token string) (*JwtCustomClaim, error) {
	secret, err := jwtSecret()
	if err != nil {
		return nil, err
	}
	claims := &JwtCustomClaim{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
