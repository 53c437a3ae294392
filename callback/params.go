package callback

import (
	"net/url"
	"strings"
)

// ParseParams flattens the query string and the fragment of a redirect
// URL into one map. The fragment is walked second and wins on duplicate
// keys, since the implicit grant delivers the token there. Keys are kept
// verbatim; values are percent-decoded without expanding + to a space,
// except for error_description where the provider uses + for spaces.
func ParseParams(u *url.URL) map[string]string {
	params := map[string]string{}
	for _, raw := range []string{u.RawQuery, u.EscapedFragment()} {
		for _, pair := range strings.Split(raw, "&") {
			if pair == "" {
				continue
			}
			key, val, _ := strings.Cut(pair, "=")
			params[key] = decodeValue(val)
		}
	}
	normalizeDescription(params)
	return params
}

func decodeValue(v string) string {
	decoded, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return decoded
}

func normalizeDescription(params map[string]string) {
	if desc, ok := params["error_description"]; ok {
		params["error_description"] = strings.ReplaceAll(desc, "+", " ")
	}
}
