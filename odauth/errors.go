package odauth

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports a Config that cannot work. Construction
	// fails and nothing starts.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrHTTPSRequired means the application origin is not a secure context
	// and Config.AllowHTTP was not set. Requesting a token there would
	// expose it to the network.
	ErrHTTPSRequired = errors.New("origin is not a secure context")
	// ErrMalformedCallback means redirect parameters carried neither a
	// token nor an error code.
	ErrMalformedCallback = errors.New("callback carries neither a token nor an error")
)

// ProviderError is an authorization failure the provider reported on the
// redirect, e.g. access_denied when the user refused consent.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
