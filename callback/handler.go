// Package callback receives the provider redirect that completes an
// implicit-grant authorization. The token rides the URL fragment, which
// browsers strip before the request reaches a server, so a GET serves a
// small relay page that re-posts every query and fragment parameter as a
// form. The POST extracts the outcome, persists the credential, mirrors
// it as the odauth cookie, and hands the raw parameter map back to the
// primary context.
package callback

import (
	"log/slog"
	"net/http"

	"github.com/hlomzik/onedrive-auth/odauth"
	"github.com/hlomzik/onedrive-auth/tokencache"
)

var baseLogAttr = slog.String("component", "callback")

func errAttr(err error) slog.Attr { return slog.String("err", err.Error()) }

// Handler serves the redirect target of an authorization request.
type Handler struct {
	// ClientID keys persisted credentials when the provider does not
	// echo the clientId parameter back.
	ClientID string
	// Origin is the callback's own origin, relayed with every message
	// and used to decide whether credentials count as secure.
	Origin string
	// Cache persists extracted credentials. Optional.
	Cache tokencache.CredentialCache
	// Deliver hands the parameter map to the primary context. Optional.
	Deliver func(odauth.Message)
	// Renderer draws the relay and terminal pages. Defaults to the
	// embedded templates.
	Renderer Renderer
}

var _ http.Handler = &Handler{}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if err := h.renderer().RenderCallbackRelay(w); err != nil {
			slog.WarnContext(r.Context(), "rendering relay page", baseLogAttr, errAttr(err))
		}
	case http.MethodPost:
		h.servePost(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) servePost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.WarnContext(r.Context(), "parsing relayed form", baseLogAttr, errAttr(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	params := make(map[string]string, len(r.PostForm))
	for key, vals := range r.PostForm {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}

	out, cred, err := h.Process(params)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		if rerr := h.renderer().RenderCallbackError(w, "The authorization response could not be understood."); rerr != nil {
			slog.WarnContext(r.Context(), "rendering error page", baseLogAttr, errAttr(rerr))
		}
		return
	}

	if out.Err != nil {
		msg := out.Err.Description
		if msg == "" {
			msg = out.Err.Code
		}
		if rerr := h.renderer().RenderCallbackError(w, msg); rerr != nil {
			slog.WarnContext(r.Context(), "rendering error page", baseLogAttr, errAttr(rerr))
		}
		return
	}

	http.SetCookie(w, cred.Cookie())
	if rerr := h.renderer().RenderCallbackTokenIssued(w); rerr != nil {
		slog.WarnContext(r.Context(), "rendering success page", baseLogAttr, errAttr(rerr))
	}
}

// Process applies a relayed parameter map: the credential is persisted
// first, then the whole map is delivered so the primary context decides
// what to trust. Responses that carry neither a token nor an error are
// logged and dropped without a delivery. A failed persist is logged but
// does not stop the relay.
func (h *Handler) Process(params map[string]string) (*odauth.Outcome, *tokencache.Credential, error) {
	normalizeDescription(params)

	out, err := odauth.ParseOutcome(params)
	if err != nil {
		slog.Warn("discarding malformed callback", baseLogAttr, errAttr(err))
		return nil, nil, err
	}

	var cred *tokencache.Credential
	if out.Err == nil {
		cred = out.Credential(odauth.SecureOrigin(h.Origin))
		clientID := params["clientId"]
		if clientID == "" {
			clientID = h.ClientID
		}
		if h.Cache != nil {
			if err := h.Cache.Set(h.Origin, clientID, cred); err != nil {
				slog.Warn("persisting credential", baseLogAttr, errAttr(err))
			}
		}
	}

	if h.Deliver != nil {
		h.Deliver(odauth.Message{Params: params, Origin: h.Origin})
	}
	return out, cred, nil
}

func (h *Handler) renderer() Renderer {
	if h.Renderer != nil {
		return h.Renderer
	}
	return &renderer{}
}
