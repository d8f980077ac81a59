package api

import (
	"net/http"
	"strings"

	"github.com/pulseboard/pulseboard/internal/progress"
)

// tokenFromRequest extracts a credential from the query string or a bearer
// header. The query form exists for websocket clients that cannot set
// headers.
func tokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

// popMetaToken removes the inline credential some emitters carry in event
// meta, so it never reaches the registry or the watchers.
func popMetaToken(evt *progress.Event) string {
	if evt.Meta == nil {
		return ""
	}
	raw, ok := evt.Meta["_token"]
	if !ok {
		return ""
	}
	delete(evt.Meta, "_token")
	tok, _ := raw.(string)
	return tok
}

// authorized reports whether a request carrying token may proceed. With no
// tokens configured, every request is allowed.
func (s *Server) authorized(token string) bool {
	if len(s.tokens) == 0 {
		return true
	}
	_, ok := s.tokens[token]
	return ok
}
