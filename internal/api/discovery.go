// internal/api/discovery.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"jobmarket-client/internal/common/logger"
)

// Discoverer resolves the entity-store base URL at runtime. It probes the
// configured candidates in order and caches the first healthy one.
type Discoverer struct {
	candidates []string
	httpClient *http.Client
	logger     logger.Logger

	mu      sync.Mutex
	current string
}

func NewDiscoverer(candidates []string, httpClient *http.Client, log logger.Logger) *Discoverer {
	d := &Discoverer{
		candidates: candidates,
		httpClient: httpClient,
		logger:     log,
	}
	if len(candidates) > 0 {
		d.current = candidates[0]
	}
	return d
}

// Current returns the cached base URL without probing.
func (d *Discoverer) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Discover probes the candidates' health endpoints and caches the first one
// that answers. The cached address is kept unchanged when every probe fails.
func (d *Discoverer) Discover(ctx context.Context) (string, error) {
	for _, base := range d.candidates {
		if d.probe(ctx, base) {
			d.mu.Lock()
			changed := d.current != base
			d.current = base
			d.mu.Unlock()

			if changed {
				d.logger.Info("endpoint discovery resolved new address", map[string]interface{}{
					"endpoint": base,
				})
			}
			return base, nil
		}
	}
	return "", fmt.Errorf("endpoint discovery: no reachable candidate out of %d", len(d.candidates))
}

func (d *Discoverer) probe(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
