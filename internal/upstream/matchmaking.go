// Package upstream provides HTTP clients for the matchmaking and user
// profile collaborator services.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/fnfo/chat/internal/chat/room"
	"github.com/fnfo/chat/internal/config"
)

// MatchmakingClient pulls room definitions from the matchmaking service.
// It implements room.OrchestrationClient.
type MatchmakingClient struct {
	base   string
	httpc  *http.Client
	logger *zap.Logger
}

// NewMatchmakingClient creates a client for the configured endpoint.
//
// Precondition: cfg.MatchmakingURL must be a valid base URL; logger must be non-nil.
func NewMatchmakingClient(cfg config.UpstreamConfig, logger *zap.Logger) *MatchmakingClient {
	return &MatchmakingClient{
		base:   cfg.MatchmakingURL,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// FetchRoom returns the upstream room, or (nil, nil) when matchmaking
// does not know it. Transport failures are returned as errors; callers
// degrade them to "room not found".
func (c *MatchmakingClient) FetchRoom(ctx context.Context, roomID string) (*room.UpstreamRoom, error) {
	endpoint := fmt.Sprintf("%s/rooms/%s", c.base, url.PathEscape(roomID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building matchmaking request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching room %s from matchmaking: %w", roomID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Debug("matchmaking does not know room",
			zap.String("room_id", roomID),
			zap.Int("status", resp.StatusCode),
		)
		return nil, nil
	}

	var upstream room.UpstreamRoom
	if err := json.NewDecoder(resp.Body).Decode(&upstream); err != nil {
		return nil, fmt.Errorf("decoding matchmaking room %s: %w", roomID, err)
	}
	if upstream.RoomID == "" {
		upstream.RoomID = roomID
	}
	return &upstream, nil
}
