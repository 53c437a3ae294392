package provider

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

// Provider is the authorization service tokens are requested from. Only the
// authorize endpoint is used: the implicit grant has no code exchange.
type Provider struct {
	Endpoint oauth2.Endpoint
}

// LiveConnect returns the provider used by OneDrive personal accounts.
func LiveConnect() *Provider {
	return &Provider{Endpoint: microsoft.LiveConnectEndpoint}
}

// AuthRequest carries the client parameters for one authorize redirect.
type AuthRequest struct {
	// ClientID is the registered application ID.
	ClientID string
	// Scopes is the space-separated scope string, exactly as registered.
	Scopes string
	// RedirectURI is where the provider sends the outcome. A clientId query
	// parameter is appended so the handshake can tell which client the
	// outcome belongs to.
	RedirectURI string
	// Silent asks the provider to answer without showing any user
	// interface. Only useful when a provider session already exists.
	Silent bool
}

// AuthorizeURL builds the authorize URL requesting a token in the redirect
// for req.
func (p *Provider) AuthorizeURL(req AuthRequest) string {
	u := p.Endpoint.AuthURL +
		"?client_id=" + encodeComponent(req.ClientID) +
		"&scope=" + encodeComponent(req.Scopes) +
		"&response_type=token" +
		"&redirect_uri=" + encodeComponent(augmentRedirect(req.RedirectURI, req.ClientID))
	if req.Silent {
		u += "&display=none"
	}
	return u
}

// DeriveOrigin reduces a redirect URI to the origin its messages will carry:
// scheme://host, with the port kept when present.
func DeriveOrigin(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parsing redirect uri: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("redirect uri %q has no scheme or host", redirectURI)
	}
	return u.Scheme + "://" + u.Host, nil
}

func augmentRedirect(redirectURI, clientID string) string {
	sep := "?"
	if strings.Contains(redirectURI, "?") {
		sep = "&"
	}
	return redirectURI + sep + "clientId=" + encodeComponent(clientID)
}

// encodeComponent percent-encodes v for embedding in a query component,
// using %20 for spaces. Not every decoder on the callback side expands +, so
// the form encoding url.Values produces could corrupt scope strings.
func encodeComponent(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
