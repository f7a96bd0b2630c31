package spotify

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	trackURLRegex = regexp.MustCompile(`(?:https?://)?(?:open\.)?spotify\.com/track/([a-zA-Z0-9]+)`)
	trackURIRegex = regexp.MustCompile(`spotify:track:([a-zA-Z0-9]+)`)
)

// ParseTrackURI canonicalizes a shared track reference (open.spotify.com
// link or spotify:track: URI) into the spotify:track:<id> form used by the
// player API.
func ParseTrackURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	if matches := trackURIRegex.FindStringSubmatch(raw); len(matches) > 1 {
		return "spotify:track:" + matches[1], nil
	}

	if matches := trackURLRegex.FindStringSubmatch(raw); len(matches) > 1 {
		return "spotify:track:" + matches[1], nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid track reference: %w", err)
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == "track" && i+1 < len(pathParts) {
			id := pathParts[i+1]
			if idx := strings.Index(id, "?"); idx != -1 {
				id = id[:idx]
			}
			if id != "" {
				return "spotify:track:" + id, nil
			}
		}
	}

	return "", fmt.Errorf("no track ID found in %q", raw)
}
