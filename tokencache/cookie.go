package tokencache

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CookieName is the cookie under which the credential travels between the
// handshake response and later page loads.
const CookieName = "odauth"

// Cookie renders the credential as the site-wide cookie the handshake sets on
// its response. The Secure attribute follows the credential, so a credential
// issued over HTTPS is never replayed over plain HTTP.
func (c *Credential) Cookie() *http.Cookie {
	return &http.Cookie{
		Name:    CookieName,
		Value:   c.Token,
		Path:    "/",
		Expires: c.Expiry.UTC(),
		Secure:  c.Secure,
	}
}

// FromCookie rebuilds a credential from a cookie written by [Credential.Cookie].
func FromCookie(ck *http.Cookie) (*Credential, error) {
	if ck == nil || ck.Name != CookieName {
		return nil, fmt.Errorf("not an %s cookie", CookieName)
	}
	if ck.Value == "" {
		return nil, errors.New("cookie has no credential")
	}
	return &Credential{
		Token:  ck.Value,
		Expiry: ck.Expires,
		Secure: ck.Secure,
	}, nil
}

// ExpiredCookie returns a cookie that clears any stored credential.
func ExpiredCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:    CookieName,
		Value:   "",
		Path:    "/",
		Expires: time.Unix(0, 0).UTC(),
		MaxAge:  -1,
		Secure:  secure,
	}
}
