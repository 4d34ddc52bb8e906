package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// RouteConfig configures the remote route oracle.
type RouteConfig struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	CacheSize int
	Flag      string // shortest|secure|insecure
}

// RouteOracle asks the universe API for gate routes. Gate topology changes
// rarely, so resolved distances are cached for the life of the process.
type RouteOracle struct {
	httpClient *http.Client
	baseURL    string
	flag       string
	userAgent  string
	cacheSize  int

	mu    sync.Mutex
	cache map[[2]int32]int
}

// NewRouteOracle creates a route oracle.
func NewRouteOracle(cfg RouteConfig) *RouteOracle {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://esi.evetech.net/latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 8192
	}
	if cfg.Flag == "" {
		cfg.Flag = "shortest"
	}
	return &RouteOracle{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		flag:       cfg.Flag,
		userAgent:  cfg.UserAgent,
		cacheSize:  cfg.CacheSize,
		cache:      make(map[[2]int32]int),
	}
}

// Distance resolves the gate distance between two systems.
func (o *RouteOracle) Distance(ctx context.Context, from, to int32) (int, error) {
	if from == to {
		return 0, nil
	}
	key := distKey(from, to)

	o.mu.Lock()
	if d, ok := o.cache[key]; ok {
		o.mu.Unlock()
		return d, nil
	}
	o.mu.Unlock()

	d, err := o.fetch(ctx, from, to)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	if len(o.cache) >= o.cacheSize {
		for k := range o.cache {
			delete(o.cache, k)
			break
		}
	}
	o.cache[key] = d
	o.mu.Unlock()
	return d, nil
}

func (o *RouteOracle) fetch(ctx context.Context, from, to int32) (int, error) {
	u := fmt.Sprintf("%s/route/%d/%d/?flag=%s", o.baseURL, from, to, o.flag)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	if o.userAgent != "" {
		req.Header.Set("User-Agent", o.userAgent)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// The API answers 404 for system pairs with no gate route.
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Unreachable, nil
	}
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("route lookup returned status %d", resp.StatusCode)
	}

	var systems []int32
	if err := json.NewDecoder(resp.Body).Decode(&systems); err != nil {
		return 0, fmt.Errorf("decode route: %w", err)
	}
	if len(systems) == 0 {
		return Unreachable, nil
	}
	return len(systems) - 1, nil
}
