package publisher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const tokenExpiryWarning = 24 * time.Hour

// CommonPreflight runs the advisory checks shared by all platforms: token freshness and media reachability.
func CommonPreflight(ctx context.Context, s *Session) []string {
	var warnings []string

	if acc := s.Req.Account; acc != nil && acc.TokenExpiresAt != nil {
		left := acc.TokenExpiresAt.Sub(s.Now())
		switch {
		case left <= 0:
			warnings = append(warnings, fmt.Sprintf("access token expired at %s", acc.TokenExpiresAt.UTC().Format(time.RFC3339)))
		case left < tokenExpiryWarning:
			warnings = append(warnings, fmt.Sprintf("access token expires in %s", left.Round(time.Minute)))
		}
	}

	for _, m := range s.Req.Content.Media {
		u, err := s.MediaURL(ctx, m)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("media %s not resolvable: %v", m.ID, err))
			continue
		}
		if w := headMedia(ctx, s, m.ID, u); w != "" {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// headMedia checks that u answers a HEAD request within the per-call timeout.
func headMedia(ctx context.Context, s *Session, id, u string) string {
	if s.Deps.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Deps.CallTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return fmt.Sprintf("media %s: %v", id, err)
	}
	resp, err := s.Deps.HTTP.Do(req)
	if err != nil {
		return fmt.Sprintf("media %s unreachable: %v", id, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("media %s returned HTTP %d", id, resp.StatusCode)
	}
	return ""
}
