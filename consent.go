package authority

import (
	"html/template"
	"net/http"

	"github.com/sentrygate/authority/server"
)

const consentPageTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Authorization Request</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f5f5f5;
        }
        .card {
            background: white;
            padding: 2.5rem;
            border-radius: 8px;
            box-shadow: 0 2px 8px rgba(0,0,0,0.1);
            max-width: 420px;
            width: 100%;
        }
        h1 { font-size: 1.25rem; margin: 0 0 0.5rem; }
        p { color: #555; margin: 0 0 1.5rem; }
        .scope { display: block; margin: 0.5rem 0; }
        .actions { margin-top: 1.5rem; display: flex; gap: 0.75rem; }
        button {
            flex: 1;
            padding: 0.6rem 1rem;
            border: none;
            border-radius: 6px;
            font-size: 1rem;
            cursor: pointer;
        }
        .approve { background: #2563eb; color: white; }
        .deny { background: #e5e7eb; color: #111; }
    </style>
</head>
<body>
    <div class="card">
        <h1>{{.ClientName}} is requesting access</h1>
        <p>Review the permissions below and decide whether to continue.</p>
        <form method="POST" action="/approve">
            <input type="hidden" name="reqid" value="{{.ReqID}}">
            {{range .Scopes}}
            <label class="scope">
                <input type="checkbox" name="scope_{{.}}" checked> {{.}}
            </label>
            {{end}}
            <div class="actions">
                <button class="approve" type="submit" name="approve" value="Approve">Approve</button>
                <button class="deny" type="submit">Deny</button>
            </div>
        </form>
    </div>
</body>
</html>`

var consentTmpl = template.Must(template.New("consent").Parse(consentPageTemplate))

// renderConsent renders the consent page for an authorization request
func (h *Handler) renderConsent(w http.ResponseWriter, consent *server.Consent) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := consentTmpl.Execute(w, consent); err != nil {
		h.logger.Error("Failed to render consent page", "error", err)
	}
}
