package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gethome/companion/backend/internal/auth"
	"github.com/gethome/companion/backend/internal/config"
	"github.com/gethome/companion/backend/internal/model/profile"
)

// userIDPlaceholder is substituted with the path-escaped identity.
const userIDPlaceholder = "{user_id}"

// maxProfileBytes bounds how much of a profile response is read.
const maxProfileBytes = 1 << 20

// ErrProfileUnavailable wraps every failure to obtain a profile.
var ErrProfileUnavailable = errors.New("profile unavailable")

// Fetcher retrieves user profiles from the user-management service.
type Fetcher struct {
	urlTemplate string
	httpClient  *http.Client
}

// NewFetcher creates a Fetcher whose requests are bounded by cfg.Timeout.
func NewFetcher(cfg config.ProfileConfig) *Fetcher {
	return &Fetcher{
		urlTemplate: cfg.URLTemplate,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Fetch loads the profile of identity, forwarding the caller's own credential.
func (f *Fetcher) Fetch(ctx context.Context, credential string, identity auth.Identity) (profile.Profile, error) {
	target := strings.ReplaceAll(f.urlTemplate, userIDPlaceholder, url.PathEscape(string(identity)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("%w: build request: %v", ErrProfileUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("%w: request failed after %s: %v", ErrProfileUnavailable, time.Since(started).Round(time.Millisecond), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBytes))
		return profile.Profile{}, fmt.Errorf("%w: unexpected status %d", ErrProfileUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return profile.Profile{}, fmt.Errorf("%w: read body: %v", ErrProfileUnavailable, err)
	}

	p, err := profile.Decode(body)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("%w: %v", ErrProfileUnavailable, err)
	}
	return p, nil
}
