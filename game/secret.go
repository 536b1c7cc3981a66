/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SecretAudience marks session secrets so they cannot pass as login tokens.
const SecretAudience = "neuroguessr-session"

// sessionClaims is the payload of a session secret. The server never reads
// it back; the signed string is only compared for equality.
type sessionClaims struct {
	Mode  string `json:"mode"`
	Atlas string `json:"atlas"`
	jwt.RegisteredClaims
}

// Secrets mints session secrets.
type Secrets struct {
	key []byte
}

// NewSecrets signs session secrets with key. An empty key is replaced by a
// random one. Stored secrets are compared by value, so a new key on restart
// leaves running sessions playable. The key must not be the one that signs
// login tokens.
func NewSecrets(key []byte) (*Secrets, error) {
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate secret key: %w", err)
		}
	}

	return &Secrets{key: key}, nil
}

func (s *Secrets) Issue(userID string, mode Mode, atlasID string, now time.Time) (string, error) {
	if s == nil || len(s.key) == 0 {
		return "", errors.New("secrets are not configured")
	}

	claims := sessionClaims{
		Mode:  string(mode),
		Atlas: atlasID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Audience: jwt.ClaimStrings{SecretAudience},
			ID:       uuid.NewString(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign session secret: %w", err)
	}

	return token, nil
}
