package kunci

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StatusPredicate classifies failures whose response status is one of statuses
// as auth-expired. With no statuses it matches 401 Unauthorized.
func StatusPredicate(statuses ...int) AuthExpiredPredicate {
	if len(statuses) == 0 {
		statuses = []int{http.StatusUnauthorized}
	}
	set := make(map[int]struct{}, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return func(f *Failure) bool {
		code := f.StatusCode()
		if code == 0 {
			code = StatusCodeOf(f.Err)
		}
		_, ok := set[code]
		return ok
	}
}

// ExpiredJWTPredicate narrows StatusPredicate using the bearer token that was
// sent: when it is a JWT with an exp claim, the failure only counts as
// auth-expired if that claim has passed (minus leeway). Opaque tokens and JWTs
// without exp are classified by status alone. The signature is not verified.
func ExpiredJWTPredicate(leeway time.Duration, statuses ...int) AuthExpiredPredicate {
	byStatus := StatusPredicate(statuses...)
	parser := jwt.NewParser()
	return func(f *Failure) bool {
		if !byStatus(f) {
			return false
		}
		token := sentBearerToken(f)
		if token == "" {
			return true
		}
		exp, err := jwtExpiry(parser, token)
		if err != nil || exp.IsZero() {
			return true
		}
		return !time.Now().Before(exp.Add(-leeway))
	}
}

func sentBearerToken(f *Failure) string {
	if f.Response == nil || f.Response.Request == nil {
		return ""
	}
	auth := f.Response.Request.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return auth[len(prefix):]
}

func jwtExpiry(parser *jwt.Parser, token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, errors.New("kunci: token has no exp claim")
	}
	return exp.Time, nil
}
