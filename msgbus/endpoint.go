package msgbus

import (
	"net/url"
	"strings"
)

// ResolveEndpoint returns the connection target for endpoint. A non-empty
// token is appended as the "token" query parameter, joined with '&' when the
// endpoint already carries a query string and '?' otherwise. The token is
// appended verbatim.
func ResolveEndpoint(endpoint string, token string, requireToken bool) (string, error) {
	if endpoint == "" {
		return "", ErrMissingEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return "", NewError(InvalidEndpointError, err)
	}
	if token == "" {
		if requireToken {
			return "", ErrMissingToken
		}
		return endpoint, nil
	}
	if strings.Contains(endpoint, "?") {
		return endpoint + "&token=" + token, nil
	}
	return endpoint + "?token=" + token, nil
}
