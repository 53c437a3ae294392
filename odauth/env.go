package odauth

import (
	"context"
	"fmt"

	"github.com/hlomzik/onedrive-auth/tokencache"
)

// SurfaceMode selects how a consent surface is presented.
type SurfaceMode int

const (
	// SurfaceVisible is a user-facing window the provider can interact in.
	SurfaceVisible SurfaceMode = iota
	// SurfaceHidden runs the round trip without any user interface. It can
	// only succeed off an existing provider session.
	SurfaceHidden
)

func (m SurfaceMode) String() string {
	switch m {
	case SurfaceVisible:
		return "visible"
	case SurfaceHidden:
		return "hidden"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SurfaceRequest describes the consent surface an authorization attempt
// needs.
type SurfaceRequest struct {
	// URL the surface must load: the provider's authorize endpoint.
	URL  string
	Mode SurfaceMode
	// Width and Height are the preferred dimensions of a visible surface,
	// centered on screen. Environments without window control ignore them.
	Width, Height int
}

// Message is one handshake payload relayed from the redirect target back to
// the application.
type Message struct {
	// Params is the full parameter mapping parsed from the redirect URL.
	Params map[string]string
	// Origin identifies where the message was sent from,
	// scheme://host[:port].
	Origin string
}

// Environment abstracts the host the application runs in: where it is
// served from, where credentials live, how a consent surface opens, and how
// handshake messages arrive. Package loopback provides the implementation
// for native applications.
type Environment interface {
	// Origin returns the origin the application itself is served from.
	Origin() string
	// Cache returns the credential store shared with the handshake.
	Cache() tokencache.CredentialCache
	// OpenSurface presents the consent surface. An error means it could not
	// be shown at all, e.g. the window was blocked.
	OpenSurface(ctx context.Context, req SurfaceRequest) error
	// Messages delivers handshake messages. The channel closes when the
	// environment shuts down.
	Messages() <-chan Message
}
