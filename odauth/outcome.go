package odauth

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/hlomzik/onedrive-auth/tokencache"
)

// Outcome is the terminal result carried in a redirect's parameters.
type Outcome struct {
	// Token is the issued bearer token.
	Token string
	// ExpiresIn is the lifetime the provider granted.
	ExpiresIn time.Duration
	// Err is set instead of Token when the provider refused.
	Err *ProviderError
}

// defaultExpiresIn is assumed when a token arrives without a usable
// expires_in.
const defaultExpiresIn = 3600 * time.Second

// ParseOutcome interprets an already-parsed redirect parameter mapping. An
// error code wins over a token; mappings with neither fail with
// [ErrMalformedCallback].
func ParseOutcome(params map[string]string) (*Outcome, error) {
	if code := params["error"]; code != "" {
		return &Outcome{Err: &ProviderError{Code: code, Description: params["error_description"]}}, nil
	}

	token := params["access_token"]
	if token == "" {
		return nil, ErrMalformedCallback
	}

	expiresIn := defaultExpiresIn
	if raw := params["expires_in"]; raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			expiresIn = time.Duration(secs) * time.Second
		} else {
			slog.Debug("unusable expires_in on callback", baseLogAttr, slog.String("expires_in", raw))
		}
	}

	return &Outcome{Token: token, ExpiresIn: expiresIn}, nil
}

// Credential converts a successful outcome into a storable credential.
// secure records whether the origin it is stored for is served over HTTPS.
func (o *Outcome) Credential(secure bool) *tokencache.Credential {
	return &tokencache.Credential{
		Token:  o.Token,
		Expiry: time.Now().Add(o.ExpiresIn),
		Secure: secure,
	}
}
