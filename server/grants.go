package server

import (
	"context"

	"github.com/sentrygate/authority/storage"
)

// Supported grant type identifiers.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
)

// TokenRequest carries the parameters of a POST /token exchange after
// the HTTP layer has extracted client credentials per the precedence
// rules in ExtractClientCredentials.
type TokenRequest struct {
	GrantType    string
	Code         string
	RefreshToken string
	RedirectURI  string // required for front-channel grants
	Scope        string // raw space-separated request, may be empty
	Email        string // password grant
	Password     string // password grant
	Credentials  ClientCredentials
}

// TokenResponse is the JSON body of a successful token exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// BackChannel reports whether a grant type is exchanged purely
// server-to-server. Back-channel grants get an access token only;
// front-channel grants additionally carry a refresh token.
func BackChannel(grantType string) bool {
	return grantType == GrantTypeClientCredentials || grantType == GrantTypePassword
}

func supportedGrantType(grantType string) bool {
	switch grantType {
	case GrantTypeAuthorizationCode, GrantTypeRefreshToken, GrantTypeClientCredentials, GrantTypePassword:
		return true
	}
	return false
}

// Exchange runs the token-issuance state machine for one request:
// grant-type check, client authentication, grant-specific validation,
// scope resolution, then token issuance.
func (s *Server) Exchange(ctx context.Context, req *TokenRequest) (*TokenResponse, *Error) {
	// Unknown grant types are rejected before any client lookup.
	if !supportedGrantType(req.GrantType) {
		s.metrics().RecordGrantExchange(ctx, req.GrantType, "unsupported")
		return nil, newError(ErrorCodeUnsupportedGrantType, "unsupported grant type: "+req.GrantType, 400)
	}

	client, oerr := s.authenticateClient(ctx, req.Credentials.ID, req.Credentials.Secret)
	if oerr != nil {
		s.metrics().RecordGrantExchange(ctx, req.GrantType, "invalid_client")
		return nil, oerr
	}

	// Front-channel exchanges must name an exactly registered redirect
	// URI, just like GET /authorize. Back-channel grants involve no
	// redirect and skip the check.
	if !BackChannel(req.GrantType) && !client.AllowsRedirect(req.RedirectURI) {
		s.Logger.Warn("Redirect URI not registered for client",
			"client_id", client.ClientID,
			"redirect_uri", req.RedirectURI)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(client.ClientID, ErrorCodeInvalidClient)
		}
		s.metrics().RecordGrantExchange(ctx, req.GrantType, "invalid_client")
		return nil, errInvalidClient()
	}

	var resp *TokenResponse
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		resp, oerr = s.exchangeAuthorizationCode(ctx, client, req)
	case GrantTypeRefreshToken:
		resp, oerr = s.exchangeRefreshToken(ctx, client, req)
	case GrantTypeClientCredentials:
		resp, oerr = s.exchangeClientCredentials(ctx, client, req)
	case GrantTypePassword:
		resp, oerr = s.exchangePassword(ctx, client, req)
	}

	if oerr != nil {
		s.metrics().RecordGrantExchange(ctx, req.GrantType, oerr.Code)
		return nil, oerr
	}

	s.metrics().RecordGrantExchange(ctx, req.GrantType, "success")
	return resp, nil
}

// exchangeAuthorizationCode consumes an issued authorization code. The
// consume is a single atomic conditional update; unknown, replayed,
// expired, and wrong-client codes all collapse to invalid_grant so a
// caller learns nothing about which predicate failed.
func (s *Server) exchangeAuthorizationCode(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, *Error) {
	authReq, err := s.flowStore.ConsumeAuthorizationRequest(ctx, req.Code, client.ClientID)
	if err != nil {
		s.Logger.Debug("Authorization code exchange failed",
			"client_id", client.ClientID,
			"code_prefix", storage.KeyPrefix(req.Code),
			"error", err)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(client.ClientID, ErrorCodeInvalidGrant)
		}
		return nil, newError(ErrorCodeInvalidGrant, "invalid authorization code", 401)
	}

	return s.issueToken(ctx, client, authReq.Scope, GrantTypeAuthorizationCode, req.RefreshToken)
}

// exchangeRefreshToken validates a presented refresh token and narrows
// scope against the token's current scope. A client mismatch flags the
// token compromised permanently; every later presentation fails too.
func (s *Server) exchangeRefreshToken(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, *Error) {
	token, err := s.tokenStore.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil || token.Compromised || token.Revoked {
		return nil, newError(ErrorCodeInvalidGrant, "invalid refresh token", 400)
	}

	if token.ClientID != client.ClientID {
		if markErr := s.tokenStore.MarkRefreshTokenCompromised(ctx, token.Key); markErr != nil {
			s.Logger.Error("Failed to mark refresh token compromised", "error", markErr)
		}
		s.Logger.Warn("Refresh token presented by wrong client",
			"owner_client_id", token.ClientID,
			"presenting_client_id", client.ClientID,
			"key_prefix", storage.KeyPrefix(token.Key))
		if s.Auditor != nil {
			s.Auditor.LogCompromisedToken(client.ClientID, storage.KeyPrefix(token.Key))
		}
		s.metrics().RecordCompromisedToken(ctx)
		return nil, newError(ErrorCodeInvalidGrant, "invalid refresh token", 400)
	}

	// Narrowing is monotonic: the baseline is the token's current
	// scope, not the client's registered scope, so a narrowed token
	// can never be re-widened. The redirect target was validated in
	// Exchange before dispatch.
	scope := ExtractScope(req.Scope, token.Scope)
	if scope == nil {
		return nil, newRedirectError(ErrorCodeInvalidScope, req.RedirectURI, "")
	}

	return s.issueToken(ctx, client, scope, GrantTypeRefreshToken, token.Key)
}

func (s *Server) exchangeClientCredentials(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, *Error) {
	if !client.SupportsGrant(GrantTypeClientCredentials) {
		return nil, newError(ErrorCodeInvalidGrant, "grant type not authorized for client", 400)
	}

	scope := ExtractScope(req.Scope, client.Scopes)
	if scope == nil {
		return nil, newError(ErrorCodeInvalidScope, "requested scope exceeds client grant", 400)
	}

	return s.issueToken(ctx, client, scope, GrantTypeClientCredentials, "")
}

func (s *Server) exchangePassword(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenResponse, *Error) {
	if !client.SupportsGrant(GrantTypePassword) {
		return nil, newError(ErrorCodeInvalidGrant, "grant type not authorized for client", 400)
	}

	if s.users == nil {
		return nil, newError(ErrorCodeInvalidGrant, "resource owner authentication unavailable", 401)
	}

	user, err := s.users.FindByEmailAndPassword(ctx, req.Email, req.Password)
	if err != nil {
		s.Logger.Debug("Resource owner authentication failed", "client_id", client.ClientID)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(client.ClientID, ErrorCodeInvalidGrant)
		}
		return nil, newError(ErrorCodeInvalidGrant, "invalid resource owner credentials", 401)
	}

	scope := ExtractScope(req.Scope, client.Scopes)
	if scope == nil {
		return nil, newError(ErrorCodeInvalidScope, "requested scope exceeds client grant", 400)
	}

	s.Logger.Debug("Resource owner authenticated",
		"client_id", client.ClientID,
		"user_id", user.ID)

	return s.issueToken(ctx, client, scope, GrantTypePassword, "")
}
