package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/rs/zerolog"

	"github.com/wayforge/wayforge/internal/provider/resilience"
	"github.com/wayforge/wayforge/internal/transit"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultTimeout bounds a single call. Display names are looked up on
	// the optimization path, so there is no retry.
	DefaultTimeout = 300 * time.Millisecond

	// reverseZoom asks for street level names.
	reverseZoom = 17

	// cacheGridDecimals rounds reverse lookups to about 100 m.
	cacheGridDecimals = 3
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the geocoding client.
type ClientConfig struct {
	// BaseURL is the service base URL (optional, defaults to DefaultBaseURL).
	BaseURL string

	// UserAgent identifies the application, which Nominatim requires.
	UserAgent string

	// ViewBox biases searches towards the service area (optional).
	ViewBox transit.BoundingBox

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client without retries.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to DefaultTimeout).
	Timeout time.Duration

	// CacheSize bounds the LRU cache (default: 4096 entries).
	CacheSize int

	// CacheTTL is how long answers are kept (default: 24h).
	CacheTTL time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client is a Nominatim client with an LRU cache.
type Client struct {
	baseURL    string
	userAgent  string
	viewBox    transit.BoundingBox
	httpClient HTTPDoer
	cache      gcache.Cache
	logger     zerolog.Logger
}

// NewClient creates a geocoding client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.NoRetry = true
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  cfg.UserAgent,
		viewBox:    cfg.ViewBox,
		httpClient: httpClient,
		cache:      gcache.New(size).LRU().Expiration(ttl).Build(),
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Resolve returns the best match for a free text query.
func (c *Client) Resolve(ctx context.Context, text string) (Place, error) {
	query := strings.Join(strings.Fields(text), " ")
	if query == "" {
		return Place{}, ErrEmptyQuery
	}
	key := "q:" + strings.ToLower(query)
	if v, err := c.cache.Get(key); err == nil {
		return v.(Place), nil
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")
	if !c.viewBox.IsZero() {
		params.Set("viewbox", fmt.Sprintf("%f,%f,%f,%f",
			c.viewBox.MinLon, c.viewBox.MaxLat, c.viewBox.MaxLon, c.viewBox.MinLat))
		params.Set("bounded", "1")
	}

	var results []searchResult
	if err := c.get(ctx, "/search", params, &results); err != nil {
		return Place{}, err
	}
	if len(results) == 0 {
		return Place{}, ErrNoResult
	}

	place, err := results[0].place()
	if err != nil {
		return Place{}, &Error{
			Provider: ProviderName,
			Code:     "BAD_RESPONSE",
			Message:  "geocoding provider returned invalid coordinates",
			Err:      err,
		}
	}
	_ = c.cache.Set(key, place)
	return place, nil
}

// Describe returns a display name for a location.
func (c *Client) Describe(ctx context.Context, loc transit.Location) (string, error) {
	if err := loc.Validate(); err != nil {
		return "", err
	}
	key := "r:" + strconv.FormatFloat(loc.Lat, 'f', cacheGridDecimals, 64) +
		"," + strconv.FormatFloat(loc.Lon, 'f', cacheGridDecimals, 64)
	if v, err := c.cache.Get(key); err == nil {
		return v.(string), nil
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(loc.Lat, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(loc.Lon, 'f', 6, 64))
	params.Set("format", "jsonv2")
	params.Set("zoom", strconv.Itoa(reverseZoom))

	var result reverseResult
	if err := c.get(ctx, "/reverse", params, &result); err != nil {
		return "", err
	}
	if result.Error != "" || result.DisplayName == "" {
		return "", ErrNoResult
	}

	_ = c.cache.Set(key, result.DisplayName)
	return result.DisplayName, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug().Str("path", path).Msg("requesting geocoding")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach geocoding provider",
			Err:      ErrProviderUnavailable,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return ErrNoResult
	default:
		return &Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:  fmt.Sprintf("geocoding provider returned status %d", resp.StatusCode),
			Err:      ErrProviderUnavailable,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (r searchResult) place() (Place, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return Place{}, fmt.Errorf("latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return Place{}, fmt.Errorf("longitude: %w", err)
	}
	loc := transit.Location{Lat: lat, Lon: lon}
	if err := loc.Validate(); err != nil {
		return Place{}, err
	}
	return Place{Location: loc, DisplayName: r.DisplayName}, nil
}
