package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jpillora/backoff"

	"github.com/vigilstack/vigil-vmhealth/internal/cache"
	"github.com/vigilstack/vigil-vmhealth/internal/models"
)

// wireMetricNames maps the engine's canonical metric keys to the names the
// vigil-core collector stores. Unknown keys pass through unchanged so custom
// rule packs can address metrics the engine has no alias for.
var wireMetricNames = map[string]string{
	models.MetricCPUUsage:          "cpu.usage.average",
	models.MetricMemoryUsage:       "mem.usage.average",
	models.MetricCPUReadySummation: "cpu.ready.summation",
	models.MetricDiskLatency:       "disk.totalLatency.average",
	models.MetricNetworkInMbps:     "net.usage.average",
}

// VigilCoreClient wraps the vigil-core metric read APIs. Series responses
// are cached under a key derived from the full query, so repeated fleet
// sweeps over the same window hit the store once per entity and metric.
type VigilCoreClient struct {
	baseURL      string
	seriesPath   string
	entitiesPath string
	httpClient   *http.Client
	cache        cache.Provider
	seriesTTL    time.Duration
	maxAttempts  int
}

// NewVigilCoreClient constructs a client for the configured vigil-core
// instance. A nil cache disables caching; non-positive attempts default to 3.
func NewVigilCoreClient(baseURL, seriesPath, entitiesPath string, timeout time.Duration, cacheProvider cache.Provider, seriesTTL time.Duration, maxAttempts int) *VigilCoreClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &VigilCoreClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		seriesPath:   seriesPath,
		entitiesPath: entitiesPath,
		httpClient:   &http.Client{Timeout: timeout},
		cache:        cacheProvider,
		seriesTTL:    seriesTTL,
		maxAttempts:  maxAttempts,
	}
}

// FetchSeries queries vigil-core for one metric's samples on one entity.
// An empty series is not an error: the caller decides whether a missing
// metric matters.
func (c *VigilCoreClient) FetchSeries(ctx context.Context, entity, metric string, start, end time.Time) ([]models.Sample, error) {
	if c == nil {
		return nil, fmt.Errorf("vigil-core client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("vigil-core base URL not configured")
	}

	cacheKey := seriesCacheKey(entity, metric, start, end)
	if cached, err := c.cache.Get(ctx, cacheKey); err == nil {
		var samples []models.Sample
		if err := json.Unmarshal(cached, &samples); err == nil {
			return samples, nil
		}
	}

	payload := map[string]interface{}{
		"entity": entity,
		"metric": wireMetricName(metric),
		"start":  start.Format(time.RFC3339),
		"end":    end.Format(time.RFC3339),
	}

	var response struct {
		Series []struct {
			Timestamp time.Time `json:"timestamp"`
			Value     float64   `json:"value"`
		} `json:"series"`
	}
	endpoint := c.resolvePath(c.seriesPath)
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &response); err != nil {
		return nil, fmt.Errorf("vigil-core series request failed: %w", err)
	}

	samples := make([]models.Sample, 0, len(response.Series))
	for _, point := range response.Series {
		samples = append(samples, models.Sample{Timestamp: point.Timestamp, Value: point.Value})
	}

	if data, err := json.Marshal(samples); err == nil {
		_ = c.cache.Set(ctx, cacheKey, data, c.seriesTTL)
	}
	return samples, nil
}

// ListEntities returns the entity inventory known to vigil-core.
func (c *VigilCoreClient) ListEntities(ctx context.Context) ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("vigil-core client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("vigil-core base URL not configured")
	}

	var response struct {
		Entities []string `json:"entities"`
	}
	endpoint := c.resolvePath(c.entitiesPath)
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("vigil-core entities request failed: %w", err)
	}
	return response.Entities, nil
}

// doJSON performs one JSON round trip, retrying transport failures and 5xx
// responses with jittered exponential backoff. 4xx responses fail fast.
func (c *VigilCoreClient) doJSON(ctx context.Context, method, endpoint string, payload interface{}, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	retry := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retry.Duration()):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			lastErr = fmt.Errorf("vigil-core returned %s", resp.Status)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("vigil-core returned %s", resp.Status)
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return lastErr
}

func (c *VigilCoreClient) resolvePath(p string) string {
	parsed, err := url.Parse(c.baseURL)
	if err != nil || parsed.Host == "" {
		return c.baseURL + p
	}
	parsed.Path = path.Join(parsed.Path, p)
	return parsed.String()
}

func wireMetricName(metric string) string {
	if wire, ok := wireMetricNames[metric]; ok {
		return wire
	}
	return metric
}

func seriesCacheKey(entity, metric string, start, end time.Time) string {
	return fmt.Sprintf("vmhealth:series:%s:%s:%d:%d", entity, metric, start.Unix(), end.Unix())
}
