package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const cookieIssuer = "flutter"

// cookieCodec carries the session identifier in an HMAC signed JWT so that
// identifiers cannot be forged or altered by the client.
type cookieCodec struct {
	secret []byte
	ttl    time.Duration
}

func (c cookieCodec) encode(id string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    cookieIssuer,
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing session cookie: %w", err)
	}
	return signed, nil
}

func (c cookieCodec) decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session cookie: %w", err)
	}

	if claims.Issuer != cookieIssuer {
		return "", fmt.Errorf("invalid session cookie issuer %q", claims.Issuer)
	}
	if claims.Subject == "" {
		return "", errors.New("session cookie has no subject")
	}

	return claims.Subject, nil
}
