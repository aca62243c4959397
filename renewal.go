package kunci

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// RenewalCodec shapes the renewal request body and reads the renewed
// credentials back. It is only consulted in CredentialModeStorage.
type RenewalCodec interface {
	EncodeRequest(current Credentials) (body []byte, contentType string, err error)
	DecodeResponse(body []byte) (Credentials, error)
}

// JSONRenewalCodec sends {"accessToken","refreshToken"} and accepts either
// camelCase or OAuth2 snake_case fields in the response.
type JSONRenewalCodec struct{}

type renewalRequestBody struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type renewalResponseBody struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshTokenSnake string `json:"refresh_token"`
}

func (JSONRenewalCodec) EncodeRequest(current Credentials) ([]byte, string, error) {
	body, err := json.Marshal(renewalRequestBody{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
	})
	if err != nil {
		return nil, "", err
	}
	return body, "application/json", nil
}

func (JSONRenewalCodec) DecodeResponse(body []byte) (Credentials, error) {
	var payload renewalResponseBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return Credentials{}, err
	}
	creds := Credentials{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken}
	if creds.AccessToken == "" {
		creds.AccessToken = payload.AccessTokenSnake
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = payload.RefreshTokenSnake
	}
	if creds.AccessToken == "" {
		return Credentials{}, errNoRenewalTokens
	}
	return creds, nil
}

// renew calls the renewal endpoint once. Errors from the renewal call are
// returned as they are so every waiter sees the same value.
func (c *Client) renew(ctx context.Context) error {
	storage := c.credentialMode == CredentialModeStorage

	header := make(http.Header)
	var body io.Reader
	var current Credentials
	if storage {
		creds, err := c.fetchCredentials(ctx)
		if err != nil {
			return newRequestError(ErrorTypeCredentials, ErrCredentials.Message, err, nil)
		}
		current = creds

		payload, contentType, err := c.renewalCodec.EncodeRequest(current)
		if err != nil {
			return newRequestError(ErrorTypeCredentials, "encode renewal request", err, nil)
		}
		header.Set("Content-Type", contentType)
		body = bytes.NewReader(payload)
	}

	pr, err := newPendingRequest(ctx, c.renewalMethod, c.renewalURL, header, body)
	if err != nil {
		return err
	}
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		pr.id = c.debug.RequestIDGen()
	}

	// The renewal call goes through the same stages as any request but never
	// through the coordinator.
	resp, err := c.send(pr)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !storage {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return newRequestError(ErrorTypeNetwork, "read renewal response", err, pr)
	}
	renewed, err := c.renewalCodec.DecodeResponse(payload)
	if err != nil {
		return newRequestError(ErrorTypeCredentials, "decode renewal response", err, pr)
	}
	if renewed.RefreshToken == "" {
		renewed.RefreshToken = current.RefreshToken
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRenewals && c.logger != nil {
		c.logger.Debug("Renewed credentials issued", "requestID", pr.ID(), "accessToken", maskToken(renewed.AccessToken))
	}

	if err := c.onRenewed(ctx, renewed); err != nil {
		return newRequestError(ErrorTypeCredentials, "persist renewed credentials", err, pr)
	}
	return nil
}
