package server

import (
	"context"
	"strings"
	"time"

	"github.com/sentrygate/authority/storage"
)

// issueToken is the token issuance pipeline shared by every grant type:
//
//  1. Revoke all of the client's existing access tokens. This happens
//     unconditionally on every mint, for every grant type. It is known
//     to be too broad for multi-user front-channel clients and is kept
//     as-is for compatibility.
//  2. Mint and persist a fresh access token.
//  3. Back-channel responses carry the access token only. Front-channel
//     responses additionally carry a refresh token: the one presented in
//     the request (scope overwritten, key unchanged), or a newly minted
//     one when none was presented.
//
// Any persistence failure collapses to a generic server_error response.
func (s *Server) issueToken(ctx context.Context, client *storage.Client, scope []string, grantType, presentedRefreshKey string) (*TokenResponse, *Error) {
	revoked, err := s.tokenStore.RevokeAccessTokens(ctx, client.ClientID)
	if err != nil {
		s.Logger.Error("Failed to revoke prior access tokens", "client_id", client.ClientID, "error", err)
		return nil, errServerError()
	}
	if revoked > 0 {
		s.metrics().RecordTokensRevoked(ctx, revoked)
	}

	access := storage.NewAccessToken(client.ClientID, scope, s.Config.AccessTokenTTL)
	if err := s.tokenStore.SaveAccessToken(ctx, access); err != nil {
		s.Logger.Error("Failed to save access token", "client_id", client.ClientID, "error", err)
		return nil, errServerError()
	}

	resp := &TokenResponse{
		AccessToken: access.Key,
		TokenType:   "Bearer",
		ExpiresIn:   access.ExpiresIn(time.Now()),
		Scope:       strings.Join(scope, " "),
	}

	channel := "back"
	if !BackChannel(grantType) {
		channel = "front"
		refresh, oerr := s.frontChannelRefreshToken(ctx, client, scope, presentedRefreshKey)
		if oerr != nil {
			return nil, oerr
		}
		resp.RefreshToken = refresh.Key
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(client.ClientID, channel, scope)
	}
	s.metrics().RecordTokenIssued(ctx, channel)

	s.Logger.Info("Issued access token",
		"client_id", client.ClientID,
		"grant_type", grantType,
		"scope", resp.Scope,
		"key_prefix", storage.KeyPrefix(access.Key))

	return resp, nil
}

// frontChannelRefreshToken reuses the presented refresh token when one
// exists, rewriting its scope to the newly negotiated one; otherwise it
// mints a new token. Keys are never rotated.
func (s *Server) frontChannelRefreshToken(ctx context.Context, client *storage.Client, scope []string, presentedKey string) (*storage.RefreshToken, *Error) {
	if presentedKey != "" {
		existing, err := s.tokenStore.GetRefreshToken(ctx, presentedKey)
		if err == nil && existing.ClientID == client.ClientID {
			existing.Scope = scope
			if err := s.tokenStore.SaveRefreshToken(ctx, existing); err != nil {
				s.Logger.Error("Failed to update refresh token scope", "client_id", client.ClientID, "error", err)
				return nil, errServerError()
			}
			return existing, nil
		}
	}

	refresh := storage.NewRefreshToken(client.ClientID, scope, s.Config.RefreshTokenTTL)
	if err := s.tokenStore.SaveRefreshToken(ctx, refresh); err != nil {
		s.Logger.Error("Failed to save refresh token", "client_id", client.ClientID, "error", err)
		return nil, errServerError()
	}
	return refresh, nil
}
