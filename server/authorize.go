package server

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sentrygate/authority/storage"
)

// Supported response types for GET /authorize.
const (
	ResponseTypeCode  = "code"
	ResponseTypeToken = "token"
)

// AuthorizeRequest carries the query parameters of a GET /authorize.
type AuthorizeRequest struct {
	ResponseType string
	RedirectURI  string
	Scope        string // raw space-separated request, may be empty
	State        string
	Credentials  ClientCredentials
	Query        url.Values // full original query, captured on the artifact
}

// Consent is everything the consent page needs to render.
type Consent struct {
	ReqID      string // opaque handle the form posts back as reqid
	ClientID   string
	ClientName string
	Scopes     []string
	State      string
}

// ApproveRequest carries the form body of a POST /approve.
type ApproveRequest struct {
	ReqID    string
	Approved bool
	Form     url.Values // scope_<name> checkboxes
}

// Authorize validates an authorization request and records an
// InitialRequest for the consent page. Client identity failures are
// returned directly; failures after the client and redirect URI are
// validated travel back to the client as redirect errors.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*Consent, *Error) {
	client, oerr := s.authenticateClient(ctx, req.Credentials.ID, req.Credentials.Secret)
	if oerr != nil {
		return nil, oerr
	}

	// The redirect URI must be supplied and exactly match a registered
	// one before any error may be delivered through it. An absent
	// parameter matches nothing.
	redirectURI := req.RedirectURI
	if !client.AllowsRedirect(redirectURI) {
		s.Logger.Warn("Redirect URI not registered for client",
			"client_id", client.ClientID,
			"redirect_uri", redirectURI)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure(client.ClientID, ErrorCodeInvalidClient)
		}
		return nil, errInvalidClient()
	}

	if req.State == "" {
		return nil, newError(ErrorCodeInvalidRequest, "state parameter is required", 400)
	}

	if req.ResponseType != ResponseTypeCode && req.ResponseType != ResponseTypeToken {
		return nil, newRedirectError(ErrorCodeUnsupportedResponseType, redirectURI, req.State)
	}

	scope := ExtractScope(req.Scope, client.Scopes)
	if scope == nil {
		return nil, newRedirectError(ErrorCodeInvalidScope, redirectURI, req.State)
	}

	initial := storage.NewInitialRequest(client.ClientID, req.Query, scope, req.State, s.Config.ArtifactTTL)
	if err := s.flowStore.SaveInitialRequest(ctx, initial); err != nil {
		s.Logger.Error("Failed to save initial request", "client_id", client.ClientID, "error", err)
		return nil, newRedirectError(ErrorCodeServerError, redirectURI, req.State)
	}

	s.Logger.Debug("Rendering consent",
		"client_id", client.ClientID,
		"reqid_prefix", storage.KeyPrefix(initial.Key),
		"scope", strings.Join(scope, " "))

	return &Consent{
		ReqID:      initial.Key,
		ClientID:   client.ClientID,
		ClientName: client.Name,
		Scopes:     scope,
		State:      req.State,
	}, nil
}

// Approve consumes the user's consent decision and produces the
// redirect location: an authorization code, an implicit-grant access
// token, or an error parameter. The reqid must reference a live,
// unconsumed InitialRequest.
func (s *Server) Approve(ctx context.Context, req *ApproveRequest) (string, *Error) {
	initial, err := s.flowStore.ConsumeInitialRequest(ctx, req.ReqID)
	if err != nil {
		s.Logger.Debug("Consent submission with invalid reqid",
			"reqid_prefix", storage.KeyPrefix(req.ReqID),
			"error", err)
		return "", newError(ErrorCodeInvalidRequest, "unknown or expired authorization request", 401)
	}

	client, err := s.clientStore.GetClient(ctx, initial.ClientID)
	if err != nil {
		return "", errServerError()
	}

	redirectURI := initial.Query.Get("redirect_uri")
	if redirectURI == "" {
		redirectURI = client.RedirectURI()
	}

	if !req.Approved {
		if s.Auditor != nil {
			s.Auditor.LogAccessDenied(client.ClientID)
		}
		return "", newRedirectError(ErrorCodeAccessDenied, redirectURI, initial.State)
	}

	// Scope is re-validated from the submitted checkboxes; the user may
	// have unticked some of the originally requested scopes.
	scope := ScopesFromForm(req.Form)
	if ScopeMismatch(scope, client.Scopes) {
		return "", newRedirectError(ErrorCodeInvalidScope, redirectURI, initial.State)
	}

	switch initial.Query.Get("response_type") {
	case ResponseTypeCode:
		return s.approveWithCode(ctx, client, initial, scope, redirectURI)
	case ResponseTypeToken:
		return s.approveWithToken(ctx, client, scope, initial.State, redirectURI)
	default:
		return "", newRedirectError(ErrorCodeUnsupportedResponseType, redirectURI, initial.State)
	}
}

// approveWithCode mints an authorization code and redirects with
// code and state.
func (s *Server) approveWithCode(ctx context.Context, client *storage.Client, initial *storage.InitialRequest, scope []string, redirectURI string) (string, *Error) {
	authReq := storage.NewAuthorizationRequest(client.ClientID, initial.Query, scope, initial.State, s.Config.ArtifactTTL)
	if err := s.flowStore.SaveAuthorizationRequest(ctx, authReq); err != nil {
		s.Logger.Error("Failed to save authorization request", "client_id", client.ClientID, "error", err)
		return "", newRedirectError(ErrorCodeServerError, redirectURI, initial.State)
	}

	s.Logger.Info("Issued authorization code",
		"client_id", client.ClientID,
		"code_prefix", storage.KeyPrefix(authReq.Key))

	return appendQuery(redirectURI, url.Values{
		"code":  {authReq.Key},
		"state": {initial.State},
	}), nil
}

// approveWithToken handles the implicit grant: the access token travels
// back as redirect query parameters. No authorization code or refresh
// token is involved.
func (s *Server) approveWithToken(ctx context.Context, client *storage.Client, scope []string, state, redirectURI string) (string, *Error) {
	revoked, err := s.tokenStore.RevokeAccessTokens(ctx, client.ClientID)
	if err != nil {
		s.Logger.Error("Failed to revoke prior access tokens", "client_id", client.ClientID, "error", err)
		return "", newRedirectError(ErrorCodeServerError, redirectURI, state)
	}
	if revoked > 0 {
		s.metrics().RecordTokensRevoked(ctx, revoked)
	}

	access := storage.NewAccessToken(client.ClientID, scope, s.Config.AccessTokenTTL)
	if err := s.tokenStore.SaveAccessToken(ctx, access); err != nil {
		s.Logger.Error("Failed to save access token", "client_id", client.ClientID, "error", err)
		return "", newRedirectError(ErrorCodeServerError, redirectURI, state)
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(client.ClientID, "front", scope)
	}
	s.metrics().RecordTokenIssued(ctx, "front")

	return appendQuery(redirectURI, url.Values{
		"access_token": {access.Key},
		"token_type":   {"Bearer"},
		"expires_in":   {strconv.FormatInt(access.ExpiresIn(time.Now()), 10)},
		"scope":        {strings.Join(scope, " ")},
		"state":        {state},
	}), nil
}
