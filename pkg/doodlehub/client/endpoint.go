package client

import (
	"errors"
	"fmt"
	"net/url"
)

// DefaultPath is the hub's WebSocket path.
const DefaultPath = "/ws"

// ResolveEndpoint picks the hub URL. An explicit URL wins; otherwise the URL
// is derived from the origin the kiosk page was served from, upgrading
// https to wss and http to ws.
func ResolveEndpoint(explicit, pageOrigin string) (string, error) {
	if explicit != "" {
		u, err := url.Parse(explicit)
		if err != nil {
			return "", fmt.Errorf("invalid hub URL %q: %w", explicit, err)
		}
		if err := upgradeScheme(u); err != nil {
			return "", err
		}
		if u.Host == "" {
			return "", fmt.Errorf("hub URL %q has no host", explicit)
		}
		return u.String(), nil
	}

	if pageOrigin == "" {
		return "", errors.New("either a hub URL or a page origin is required")
	}

	u, err := url.Parse(pageOrigin)
	if err != nil {
		return "", fmt.Errorf("invalid page origin %q: %w", pageOrigin, err)
	}
	if err := upgradeScheme(u); err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("page origin %q has no host", pageOrigin)
	}

	u.Path = DefaultPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

func upgradeScheme(u *url.URL) error {
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return nil
}
