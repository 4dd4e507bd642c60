package authority

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/sentrygate/authority/instrumentation"
	"github.com/sentrygate/authority/server"
)

// Handler provides HTTP handlers for the authorization endpoints.
type Handler struct {
	server *server.Server
	logger *slog.Logger
	instr  *instrumentation.Instrumentation
}

// NewHandler creates a new HTTP handler wrapping an authorization server
func NewHandler(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{server: srv, logger: logger}
}

// SetInstrumentation sets OpenTelemetry instrumentation for the HTTP layer
func (h *Handler) SetInstrumentation(inst *instrumentation.Instrumentation) {
	h.instr = inst
}

// RegisterRoutes registers all authorization endpoints on the mux.
// /authorise is an accepted alias for /authorize.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /authorize", h.ServeAuthorize)
	mux.HandleFunc("GET /authorise", h.ServeAuthorize)
	mux.HandleFunc("POST /approve", h.ServeApprove)
	mux.HandleFunc("POST /token", h.ServeToken)
	mux.HandleFunc("POST /clients", h.ServeClientRegistration)
	mux.HandleFunc("GET /clients", h.ServeClientList)
	mux.HandleFunc("DELETE /clients/{id}", h.ServeClientDeletion)
}

// ServeAuthorize handles GET /authorize: it validates the authorization
// request and renders the consent page.
func (h *Handler) ServeAuthorize(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}

	query := r.URL.Query()
	req := &server.AuthorizeRequest{
		ResponseType: query.Get("response_type"),
		RedirectURI:  query.Get("redirect_uri"),
		Scope:        query.Get("scope"),
		State:        query.Get("state"),
		Credentials:  server.ExtractClientCredentials(r.Header.Get("Authorization"), url.Values{}, query),
		Query:        query,
	}

	consent, oerr := h.server.Authorize(r.Context(), req)
	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}

	h.renderConsent(w, consent)
}

// ServeApprove handles POST /approve: the consent form submission. The
// user approved iff the approve field is present.
func (h *Handler) ServeApprove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeJSONError(w, ErrInvalidRequest("malformed form body"))
		return
	}

	location, oerr := h.server.Approve(r.Context(), &server.ApproveRequest{
		ReqID:    r.PostForm.Get("reqid"),
		Approved: r.PostForm.Get("approve") != "",
		Form:     r.PostForm,
	})
	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}

	http.Redirect(w, r, location, http.StatusSeeOther)
}

// ServeToken handles POST /token: the grant exchange endpoint.
// Parameters are accepted from the form body with a query-string
// fallback; client credentials follow the header/body/query precedence
// with the anti-smuggling rule.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}

	if err := r.ParseForm(); err != nil {
		h.writeJSONError(w, ErrInvalidRequest("malformed form body"))
		return
	}
	query := r.URL.Query()

	param := func(name string) string {
		if v := r.PostForm.Get(name); v != "" {
			return v
		}
		return query.Get(name)
	}

	req := &server.TokenRequest{
		GrantType:    param("grant_type"),
		Code:         param("code"),
		RefreshToken: param("refresh_token"),
		RedirectURI:  param("redirect_uri"),
		Scope:        param("scope"),
		Email:        param("email"),
		Password:     param("password"),
		Credentials:  server.ExtractClientCredentials(r.Header.Get("Authorization"), r.PostForm, query),
	}

	resp, oerr := h.server.Exchange(r.Context(), req)
	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ServeClientRegistration handles POST /clients
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if !h.checkRateLimit(w, r) {
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, ErrInvalidRequest("malformed JSON body"))
		return
	}

	registered, oerr := h.server.RegisterClient(r.Context(), &server.ClientRegistration{
		Name:         req.Name,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		GrantTypes:   req.GrantTypes,
	})
	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}

	h.writeJSON(w, http.StatusCreated, ClientRegistrationResponse{
		ClientID:     registered.ClientID,
		ClientSecret: registered.ClientSecret,
		Name:         registered.Name,
		RedirectURIs: registered.RedirectURIs,
		Scopes:       registered.Scopes,
		GrantTypes:   registered.GrantTypes,
		CreatedAt:    registered.CreatedAt,
	})
}

// ServeClientList handles GET /clients
func (h *Handler) ServeClientList(w http.ResponseWriter, r *http.Request) {
	clients, oerr := h.server.ListClients(r.Context())
	if oerr != nil {
		h.writeError(w, r, oerr)
		return
	}

	summaries := make([]ClientSummary, 0, len(clients))
	for _, c := range clients {
		summaries = append(summaries, ClientSummary{
			ClientID:     c.ClientID,
			Name:         c.Name,
			RedirectURIs: c.RedirectURIs,
			Scopes:       c.Scopes,
			GrantTypes:   c.GrantTypes,
			CreatedAt:    c.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, summaries)
}

// ServeClientDeletion handles DELETE /clients/{id}
func (h *Handler) ServeClientDeletion(w http.ResponseWriter, r *http.Request) {
	if oerr := h.server.DeregisterClient(r.Context(), r.PathValue("id")); oerr != nil {
		h.writeError(w, r, oerr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError surfaces a protocol error either as a 303 redirect carrying
// the error parameter (front-channel errors) or as a JSON body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, oerr *server.Error) {
	if loc := oerr.RedirectURL(); loc != "" {
		http.Redirect(w, r, loc, http.StatusSeeOther)
		return
	}
	h.writeJSON(w, oerr.Status, ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

func (h *Handler) writeJSONError(w http.ResponseWriter, oerr *OAuthError) {
	h.writeJSON(w, oerr.Status, ErrorResponse{
		Error:            oerr.Code,
		ErrorDescription: oerr.Description,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// checkRateLimit applies the server's identifier-based rate limiter
// keyed by client IP. A nil limiter allows everything.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request) bool {
	limiter := h.server.RateLimiter
	if limiter == nil {
		return true
	}

	ip := clientIP(r)
	if limiter.Allow(ip) {
		return true
	}

	h.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
	if h.instr != nil {
		h.instr.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.writeJSONError(w, ErrRateLimitExceeded())
	return false
}

// clientIP extracts the caller's IP, trusting X-Forwarded-For only for
// its first hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
