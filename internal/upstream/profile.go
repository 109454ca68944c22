package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/config"
)

// Profile is a user's public display attributes.
type Profile struct {
	IdentityID string `json:"identityId"`
	Name       string `json:"name"`
	Country    string `json:"country"`
}

// FallbackName derives a placeholder display name from an identity id,
// used when profile resolution fails or times out.
func FallbackName(identityID string) string {
	suffix := identityID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "User_" + suffix
}

// ProfileResolver resolves identity ids to display attributes via the
// user profile service, with a read-through TTL cache.
type ProfileResolver struct {
	base   string
	httpc  *http.Client
	cache  *ProfileCache
	logger *zap.Logger
}

// NewProfileResolver creates a resolver for the configured endpoint.
//
// Precondition: cfg.ProfileURL must be a valid base URL; logger must be non-nil.
func NewProfileResolver(cfg config.UpstreamConfig, logger *zap.Logger) *ProfileResolver {
	return &ProfileResolver{
		base:   cfg.ProfileURL,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		cache:  NewProfileCache(cfg.ProfileCacheTTL),
		logger: logger,
	}
}

// Resolve returns the profile for the identity, or (nil, nil) when the
// profile service does not know it. Cache hits skip the network.
func (r *ProfileResolver) Resolve(ctx context.Context, identityID string) (*Profile, error) {
	if cached, ok := r.cache.Get(identityID); ok {
		return &cached, nil
	}

	endpoint := fmt.Sprintf("%s/by-identity/%s", r.base, url.PathEscape(identityID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building profile request: %w", err)
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching profile %s: %w", identityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Debug("profile not found",
			zap.String("identity_id", identityID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, nil
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decoding profile %s: %w", identityID, err)
	}
	if profile.IdentityID == "" {
		profile.IdentityID = identityID
	}

	r.cache.Put(identityID, profile)
	return &profile, nil
}

// DisplayName resolves the identity's display name, falling back to the
// given placeholder when resolution fails for any reason.
func (r *ProfileResolver) DisplayName(ctx context.Context, identityID, fallback string) string {
	profile, err := r.Resolve(ctx, identityID)
	if err != nil {
		r.logger.Warn("display name resolution failed",
			zap.String("identity_id", identityID),
			zap.Error(err),
		)
		return fallback
	}
	if profile == nil || profile.Name == "" {
		return fallback
	}
	return profile.Name
}

// ResolveMany fetches profiles for several identities concurrently.
// Unresolvable identities are absent from the result.
func (r *ProfileResolver) ResolveMany(ctx context.Context, identityIDs []string) map[string]Profile {
	results := make(map[string]Profile, len(identityIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range identityIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			profile, err := r.Resolve(ctx, id)
			if err != nil || profile == nil {
				return
			}
			mu.Lock()
			results[id] = *profile
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Invalidate drops a single identity's cached profile.
func (r *ProfileResolver) Invalidate(identityID string) {
	r.cache.Invalidate(identityID)
}

// ClearCache drops every cached profile.
func (r *ProfileResolver) ClearCache() {
	r.cache.Clear()
}
