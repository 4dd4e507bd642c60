package authority

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/sentrygate/authority/accounts"
	"github.com/sentrygate/authority/security"
	"github.com/sentrygate/authority/server"
	"github.com/sentrygate/authority/storage/memory"
)

func newTestHandler(t *testing.T) (*Handler, *server.Server) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	users := accounts.NewMemoryStore()
	if err := users.AddUser(accounts.User{ID: "u1", Email: "alice@example.com", Name: "Alice"}, "hunter2"); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}

	srv, err := server.New(store, store, store, users, nil, nil)
	if err != nil {
		t.Fatalf("server.New failed: %v", err)
	}

	return NewHandler(srv, nil), srv
}

func newTestMux(t *testing.T) (*http.ServeMux, *server.Server) {
	t.Helper()
	h, srv := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux, srv
}

// registerTestClient registers a client through the HTTP API and returns
// the registration response, including the one-time plaintext secret.
func registerTestClient(t *testing.T, mux *http.ServeMux, grantTypes []string) ClientRegistrationResponse {
	t.Helper()

	body, _ := json.Marshal(ClientRegistrationRequest{
		Name:         "test app " + t.Name(),
		RedirectURIs: []string{"https://client.example.com/callback"},
		Scopes:       []string{"read", "write"},
		GrantTypes:   grantTypes,
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/clients", bytes.NewReader(body)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("client registration: status %d, body %s", rec.Code, rec.Body)
	}

	var reg ClientRegistrationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &reg); err != nil {
		t.Fatalf("decoding registration response: %v", err)
	}
	return reg
}

func postToken(mux *http.ServeMux, form url.Values, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for key, values := range header {
		req.Header[key] = values
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestTokenEndpointClientCredentials(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"client_credentials"})

	rec := postToken(mux, url.Values{
		"grant_type":    {"client_credentials"},
		"scope":         {"read"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}

	var resp server.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("expected access_token")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want read", resp.Scope)
	}
	if resp.ExpiresIn < 598 || resp.ExpiresIn > 600 {
		t.Errorf("expires_in = %d, want ~599", resp.ExpiresIn)
	}
	if resp.RefreshToken != "" {
		t.Error("client_credentials must not return a refresh token")
	}
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"client_credentials"})

	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(
		[]byte(reg.ClientID+":"+reg.ClientSecret)))

	rec := postToken(mux, url.Values{
		"grant_type": {"client_credentials"},
	}, header)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
}

func TestTokenEndpointAntiSmuggling(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"client_credentials"})

	// Valid credentials in the header AND in the body: tampering, must
	// fail even though each source alone would authenticate.
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(
		[]byte(reg.ClientID+":"+reg.ClientSecret)))

	rec := postToken(mux, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, header)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want invalid_client", resp.Error)
	}
}

func TestTokenEndpointUnsupportedGrantType(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := postToken(mux, url.Values{"grant_type": {"device_code"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want unsupported_grant_type", resp.Error)
	}
}

func TestTokenEndpointQueryParameters(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"client_credentials"})

	// Everything on the query string, empty body
	target := "/token?" + url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}.Encode()
	req := httptest.NewRequest("POST", target, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
}

func TestAuthorizationCodeFlowEndToEnd(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"authorization_code", "refresh_token"})

	// Step 1: GET /authorize renders the consent page
	authorizeURL := "/authorize?" + url.Values{
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
		"redirect_uri":  {"https://client.example.com/callback"},
		"response_type": {"code"},
		"scope":         {"read"},
		"state":         {"anti-csrf-123"},
	}.Encode()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", authorizeURL, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize: status %d, body %s", rec.Code, rec.Body)
	}
	page := rec.Body.String()
	if !strings.Contains(page, `name="reqid"`) || !strings.Contains(page, "scope_read") {
		t.Fatalf("consent page missing form fields: %s", page)
	}

	reqID := extractHiddenValue(t, page, "reqid")

	// Step 2: POST /approve with the ticked scope
	approveForm := url.Values{
		"reqid":      {reqID},
		"approve":    {"Approve"},
		"scope_read": {"checked"},
	}
	req := httptest.NewRequest("POST", "/approve", strings.NewReader(approveForm.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("approve: status %d, body %s", rec.Code, rec.Body)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect location: %v", err)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect: %s", loc)
	}
	if loc.Query().Get("state") != "anti-csrf-123" {
		t.Errorf("state = %q, want anti-csrf-123", loc.Query().Get("state"))
	}

	// Step 3: exchange the code
	tokenForm := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://client.example.com/callback"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}
	rec = postToken(mux, tokenForm, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token: status %d, body %s", rec.Code, rec.Body)
	}
	var resp server.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Errorf("expected access and refresh tokens: %+v", resp)
	}
	if resp.Scope != "read" {
		t.Errorf("scope = %q, want read", resp.Scope)
	}

	// Step 4: replaying the code must fail
	rec = postToken(mux, tokenForm, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code replay: status %d, want 401", rec.Code)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if errResp.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want invalid_grant", errResp.Error)
	}

	// Step 5: the refresh token works and keeps its key
	rec = postToken(mux, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {resp.RefreshToken},
		"redirect_uri":  {"https://client.example.com/callback"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d, body %s", rec.Code, rec.Body)
	}
	var refreshed server.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if refreshed.RefreshToken != resp.RefreshToken {
		t.Error("refresh token key must not rotate")
	}
	if refreshed.AccessToken == resp.AccessToken {
		t.Error("expected a fresh access token")
	}
}

func TestTokenEndpointFrontChannelRequiresRedirectURI(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"refresh_token"})

	// Valid client credentials, but no redirect_uri on a front-channel
	// grant: rejected before any token lookup.
	rec := postToken(mux, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"whatever"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want invalid_client", resp.Error)
	}
}

func TestAuthoriseAlias(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"authorization_code"})

	target := "/authorise?" + url.Values{
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
		"redirect_uri":  {"https://client.example.com/callback"},
		"response_type": {"code"},
		"state":         {"xyz"},
	}.Encode()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("authorise alias: status %d, body %s", rec.Code, rec.Body)
	}
}

func TestAuthorizeScopeMismatchRedirects(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"authorization_code"})

	target := "/authorize?" + url.Values{
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
		"redirect_uri":  {"https://client.example.com/callback"},
		"response_type": {"code"},
		"scope":         {"admin"},
		"state":         {"xyz"},
	}.Encode()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303", rec.Code)
	}
	loc := rec.Header().Get("Location")
	if !strings.Contains(loc, "error=invalid_scope") {
		t.Errorf("location missing error param: %s", loc)
	}
}

func TestApproveDenialRedirects(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"authorization_code"})

	target := "/authorize?" + url.Values{
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
		"redirect_uri":  {"https://client.example.com/callback"},
		"response_type": {"code"},
		"state":         {"xyz"},
	}.Encode()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("authorize: status %d", rec.Code)
	}
	reqID := extractHiddenValue(t, rec.Body.String(), "reqid")

	// Submit without the approve field: denial
	form := url.Values{"reqid": {reqID}}
	req := httptest.NewRequest("POST", "/approve", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status %d, want 303", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "error=access_denied") {
		t.Errorf("location missing access_denied: %s", rec.Header().Get("Location"))
	}
}

func TestApproveUnknownReqID(t *testing.T) {
	mux, _ := newTestMux(t)

	form := url.Values{"reqid": {"bogus"}, "approve": {"Approve"}}
	req := httptest.NewRequest("POST", "/approve", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != ErrorCodeInvalidRequest {
		t.Errorf("error = %q, want invalid_request", resp.Error)
	}
}

func TestClientManagementAPI(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"client_credentials"})

	// List
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/clients", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var summaries []ClientSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ClientID != reg.ClientID {
		t.Errorf("unexpected list: %+v", summaries)
	}
	if strings.Contains(rec.Body.String(), reg.ClientSecret) {
		t.Error("client list must not expose secrets")
	}

	// Delete
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/clients/"+reg.ClientID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}

	// Deleted clients no longer authenticate
	rec = postToken(mux, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token after delete: status %d, want 401", rec.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	mux, srv := newTestMux(t)
	limiter := security.NewRateLimiter(1, 1, nil)
	t.Cleanup(limiter.Stop)
	srv.SetRateLimiter(limiter)

	// First request consumes the burst; the second must be limited.
	first := postToken(mux, url.Values{"grant_type": {"device_code"}}, nil)
	if first.Code == http.StatusTooManyRequests {
		t.Fatal("first request should not be rate limited")
	}

	second := postToken(mux, url.Values{"grant_type": {"device_code"}}, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", second.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(second.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != ErrorCodeRateLimitExceeded {
		t.Errorf("error = %q, want rate_limit_exceeded", resp.Error)
	}
}

func TestPasswordGrantEndToEnd(t *testing.T) {
	mux, _ := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"password"})

	rec := postToken(mux, url.Values{
		"grant_type":    {"password"},
		"email":         {"alice@example.com"},
		"password":      {"hunter2"},
		"scope":         {"read"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}

	rec = postToken(mux, url.Values{
		"grant_type":    {"password"},
		"email":         {"alice@example.com"},
		"password":      {"wrong"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d, want 401", rec.Code)
	}
}

func TestValidateAccessTokenAfterIssue(t *testing.T) {
	mux, srv := newTestMux(t)
	reg := registerTestClient(t, mux, []string{"client_credentials"})

	rec := postToken(mux, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {reg.ClientID},
		"client_secret": {reg.ClientSecret},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body)
	}
	var resp server.TokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	token, err := srv.ValidateAccessToken(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken failed: %v", err)
	}
	if token.ClientID != reg.ClientID {
		t.Errorf("ClientID = %q, want %q", token.ClientID, reg.ClientID)
	}
}

// extractHiddenValue pulls the value of a hidden form input out of a
// rendered consent page.
func extractHiddenValue(t *testing.T, page, name string) string {
	t.Helper()
	marker := `name="` + name + `" value="`
	idx := strings.Index(page, marker)
	if idx < 0 {
		t.Fatalf("form input %q not found in page", name)
	}
	rest := page[idx+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		t.Fatalf("unterminated value for %q", name)
	}
	return rest[:end]
}
