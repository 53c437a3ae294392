package internal

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// HTTPClientFromContext picks the *http.Client to send with: the
// oauth2.HTTPClient context value when set, the explicit client when not
// nil, the default client otherwise.
func HTTPClientFromContext(ctx context.Context, explicit *http.Client) *http.Client {
	hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client)
	if ok {
		return hc
	}
	if explicit != nil {
		return explicit
	}
	return http.DefaultClient
}

// CaptureClient copies base into a client that sends with jar and follows
// redirects only until the next hop lands under stop. That hop is not
// requested; the response carrying its Location header is returned
// instead, so the caller sees the URL fragment a served request would
// have lost.
func CaptureClient(base *http.Client, jar http.CookieJar, stop string) *http.Client {
	c := &http.Client{
		Transport: base.Transport,
		Timeout:   base.Timeout,
		Jar:       jar,
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if strings.HasPrefix(req.URL.String(), stop) {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	return c
}
