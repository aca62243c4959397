package kunci

import (
	"context"

	"golang.org/x/oauth2"
)

// Credentials is the access/refresh token pair exchanged with the renewal
// endpoint. Only the emptiness of AccessToken is ever inspected.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Token converts the pair into an oauth2 bearer token.
func (c Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
}

// CredentialsFromToken extracts the token pair from an oauth2 token.
func CredentialsFromToken(tok *oauth2.Token) Credentials {
	if tok == nil {
		return Credentials{}
	}
	return Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}
}

// TokenSourceFetcher adapts an oauth2.TokenSource into a CredentialFetcher.
// The source is queried on every request, so wrap it with oauth2.ReuseTokenSource
// when it is expensive.
func TokenSourceFetcher(src oauth2.TokenSource) CredentialFetcher {
	return func(ctx context.Context) (Credentials, error) {
		tok, err := src.Token()
		if err != nil {
			return Credentials{}, err
		}
		return CredentialsFromToken(tok), nil
	}
}

// maskToken masks a token for safe logging, showing only a short prefix.
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:8] + "..."
}
