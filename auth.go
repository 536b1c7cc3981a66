/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

type contextKey string

const userKey contextKey = "userId"

const (
	userAudience  = "neuroguessr"
	lobbyAudience = "neuroguessr-lobby"
)

var errInvalidToken = errors.New("invalid or expired token")

// auth signs and verifies the HS256 bearer tokens carrying a user id in
// their subject. Account management lives outside this server.
//
// Lobby creator tokens are signed with lobbyKey, which is random per process
// and never accepted by verify.
type auth struct {
	key      []byte
	lobbyKey []byte
	now      func() time.Time
}

type lobbyClaims struct {
	Lobby string `json:"lobby"`
	jwt.RegisteredClaims
}

func newAuth(secret string) *auth {
	lobbyKey := make([]byte, 32)
	_, _ = rand.Read(lobbyKey)

	return &auth{
		key:      []byte(secret),
		lobbyKey: lobbyKey,
		now:      time.Now,
	}
}

func (a *auth) issue(userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  userID,
		Audience: jwt.ClaimStrings{userAudience},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

// issueLobby signs the creator capability of a multiplayer lobby.
func (a *auth) issueLobby(userID, code string, now time.Time) (string, error) {
	claims := lobbyClaims{
		Lobby: code,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Audience: jwt.ClaimStrings{lobbyAudience},
			IssuedAt: jwt.NewNumericDate(now),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.lobbyKey)
	if err != nil {
		return "", fmt.Errorf("sign lobby token: %w", err)
	}

	return token, nil
}

// tokensMatch compares capability tokens in constant time.
func tokensMatch(stored, given string) bool {
	return given != "" && subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// verify returns the user id of a valid bearer token.
func (a *auth) verify(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(userAudience),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", errInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", errInvalidToken
	}

	return claims.Subject, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")

	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)

	return id
}

// requireUser rejects requests without a valid bearer token and passes the
// user id on through the request context.
func requireUser(cfg *Config, a *auth, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		raw := bearerToken(r)
		if raw == "" {
			securityHeaders(cfg, w)
			_, _ = writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing bearer token"})
			return
		}

		userID, err := a.verify(raw)
		if err != nil {
			logf(cfg, "SERVE: Rejected token from %s: %v", realIP(r), err)
			securityHeaders(cfg, w)
			_, _ = writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)), p)
	}
}
