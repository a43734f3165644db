package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/desertthunder/tunelink/internal/models"
	"github.com/desertthunder/tunelink/internal/shared"
)

// EngineInfo is the capability document served at GET /{version}/info.
type EngineInfo struct {
	Version struct {
		Semver string `json:"semver"`
	} `json:"version"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
}

// PlayerInfo is one entry of GET /{version}/sessions/{id}/players.
type PlayerInfo struct {
	GuildID string        `json:"guildId"`
	Track   *models.Track `json:"track"`
	Volume  int           `json:"volume"`
	Paused  bool          `json:"paused"`
}

// RestClient executes control commands against one engine instance's HTTP
// endpoint. Commands that address a player require the engine-assigned
// session id from the most recent handshake; a stale id is replaced, never
// retried.
type RestClient struct {
	baseURL    string
	version    string
	password   string
	userID     string
	clientName string

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewRestClient builds a REST gateway for the given node configuration.
func NewRestClient(cfg shared.NodeConfig, client shared.ClientConfig, logger *log.Logger) *RestClient {
	scheme := "http"
	if cfg.Secure {
		scheme = "https"
	}
	version := cfg.Version
	if version == "" {
		version = "v4"
	}
	if logger == nil {
		logger = shared.NopLogger()
	}

	return &RestClient{
		baseURL:    fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		version:    version,
		password:   cfg.Password,
		userID:     client.UserID,
		clientName: client.ClientName,
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Limit(25), 25),
		logger:     logger,
	}
}

// SetSessionID binds the engine-assigned session identifier from the latest
// handshake epoch, replacing any stale one.
func (c *RestClient) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID returns the currently bound engine session identifier.
func (c *RestClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// do performs an authenticated request against the engine REST endpoint and
// decodes the response into result when non-nil.
func (c *RestClient) do(ctx context.Context, method, endpoint string, body any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	apiURL := c.baseURL + "/" + c.version + endpoint

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", c.password)
	req.Header.Set("User-Id", c.userID)
	req.Header.Set("Client-Name", c.clientName)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", shared.ErrAPIRequest, method, endpoint, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *RestClient) playersPath() (string, error) {
	sid := c.SessionID()
	if sid == "" {
		return "", shared.ErrNoSessionID
	}
	return "/sessions/" + sid + "/players", nil
}

// LoadTracks resolves an identifier (URL or search query) into tracks.
func (c *RestClient) LoadTracks(ctx context.Context, identifier string) (*models.LoadResult, error) {
	var result models.LoadResult
	endpoint := "/loadtracks?identifier=" + url.QueryEscape(identifier)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdatePlayer sends a coalesced player update. When noReplace is set the
// engine keeps the current track if one is already playing.
func (c *RestClient) UpdatePlayer(ctx context.Context, guildID string, payload map[string]any, noReplace bool) error {
	base, err := c.playersPath()
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/%s?noReplace=%t", base, guildID, noReplace)
	return c.do(ctx, http.MethodPatch, endpoint, payload, nil)
}

// DestroyPlayer removes the engine-side player for a tenant.
func (c *RestClient) DestroyPlayer(ctx context.Context, guildID string) error {
	base, err := c.playersPath()
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, base+"/"+guildID, nil, nil)
}

// Players lists all engine-side players for the bound session.
func (c *RestClient) Players(ctx context.Context) ([]PlayerInfo, error) {
	base, err := c.playersPath()
	if err != nil {
		return nil, err
	}
	var result []PlayerInfo
	if err := c.do(ctx, http.MethodGet, base, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Info fetches the engine's capability document.
func (c *RestClient) Info(ctx context.Context) (*EngineInfo, error) {
	var info EngineInfo
	if err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Stats fetches a one-off stats frame over HTTP.
func (c *RestClient) Stats(ctx context.Context) (*StatsFrame, error) {
	var stats StatsFrame
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DecodeTrack expands one encoded track token into its metadata.
func (c *RestClient) DecodeTrack(ctx context.Context, encoded string) (*models.Track, error) {
	var track models.Track
	endpoint := "/decodetrack?encodedTrack=" + url.QueryEscape(encoded)
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// DecodeTracks expands a batch of encoded track tokens.
func (c *RestClient) DecodeTracks(ctx context.Context, encoded []string) ([]models.Track, error) {
	var tracks []models.Track
	if err := c.do(ctx, http.MethodPost, "/decodetracks", encoded, &tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

// ConfigureResume asks the engine to keep this session alive for timeoutSecs
// after the event stream drops. Failure here is reported, not fatal.
func (c *RestClient) ConfigureResume(ctx context.Context, timeoutSecs int) error {
	sid := c.SessionID()
	if sid == "" {
		return shared.ErrNoSessionID
	}
	payload := map[string]any{"resuming": true, "timeout": timeoutSecs}
	return c.do(ctx, http.MethodPatch, "/sessions/"+sid, payload, nil)
}
