package server

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// ClientCredentials is a client id/secret pair extracted from a request.
type ClientCredentials struct {
	ID     string
	Secret string
}

// ExtractClientCredentials resolves client credentials from a request in
// strict precedence order: HTTP Basic Authorization header, then form
// body, then query string.
//
// Anti-smuggling contract: if credentials appear in the Authorization
// header AND simultaneously in the body or query, the request is treated
// as tampered and both id and secret resolve to empty, so the subsequent
// client lookup fails.
func ExtractClientCredentials(authHeader string, body, query url.Values) ClientCredentials {
	headerCreds, headerPresent := parseBasicAuth(authHeader)

	bodyID, bodySecret := body.Get("client_id"), body.Get("client_secret")
	queryID, querySecret := query.Get("client_id"), query.Get("client_secret")

	if headerPresent {
		if bodyID != "" || bodySecret != "" || queryID != "" || querySecret != "" {
			return ClientCredentials{}
		}
		return headerCreds
	}

	if bodyID != "" || bodySecret != "" {
		return ClientCredentials{ID: bodyID, Secret: bodySecret}
	}

	return ClientCredentials{ID: queryID, Secret: querySecret}
}

// parseBasicAuth decodes an HTTP Basic Authorization header value into
// client credentials. Malformed headers count as absent.
func parseBasicAuth(authHeader string) (ClientCredentials, bool) {
	const prefix = "Basic "
	if authHeader == "" || !strings.HasPrefix(authHeader, prefix) {
		return ClientCredentials{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(authHeader[len(prefix):]))
	if err != nil {
		return ClientCredentials{}, false
	}

	id, secret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return ClientCredentials{}, false
	}

	// Credentials are form-encoded inside the Basic value per RFC 6749.
	decodedID, err := url.QueryUnescape(id)
	if err != nil {
		return ClientCredentials{}, false
	}
	decodedSecret, err := url.QueryUnescape(secret)
	if err != nil {
		return ClientCredentials{}, false
	}

	return ClientCredentials{ID: decodedID, Secret: decodedSecret}, true
}
