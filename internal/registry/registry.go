// Package registry is the route registry: loads and indexes route
// configurations by routeId and answers lookups. The full route table is
// replaced atomically on reload so readers always see either the pre- or
// the post-reload snapshot, never a mixture.
package registry

import (
	"fmt"
	"sync/atomic"

	"github.com/flowctl/workflowrouter/internal/observability"
	"github.com/flowctl/workflowrouter/internal/routererr"
)

// RouteConfig is one entry in the route table, immutable once loaded.
type RouteConfig struct {
	RouteID                string
	EndpointType           string
	EndpointURL            string
	UserID                 string
	Password               string
	Properties             map[string]interface{}
	StatusThresholdSeconds int
}

const defaultStatusThresholdSeconds = 300

// Registry holds the current route table behind a lock-free atomic
// pointer: reloads build a fresh map and swap it in whole, so lookups
// never see a partially applied route set.
type Registry struct {
	snapshot atomic.Pointer[map[string]RouteConfig]
}

func New() *Registry {
	r := &Registry{}
	empty := map[string]RouteConfig{}
	r.snapshot.Store(&empty)
	return r
}

// Lookup returns the route config for routeId, or routererr.ErrUnknownRoute.
func (r *Registry) Lookup(routeID string) (RouteConfig, error) {
	table := r.snapshot.Load()
	cfg, ok := (*table)[routeID]
	if !ok {
		return RouteConfig{}, routererr.New(routererr.KindUnknownRoute, routeID)
	}
	return cfg, nil
}

// Reload validates and swaps in a new full route table. On validation
// failure the prior snapshot is retained and InvalidConfig is returned.
func (r *Registry) Reload(routes []RouteConfig) error {
	table, err := buildTable(routes)
	if err != nil {
		observability.RouteReloads.WithLabelValues("invalid").Inc()
		return err
	}

	r.snapshot.Store(&table)
	observability.RouteReloads.WithLabelValues("ok").Inc()
	observability.RoutesLoaded.Set(float64(len(table)))
	return nil
}

func buildTable(routes []RouteConfig) (map[string]RouteConfig, error) {
	table := make(map[string]RouteConfig, len(routes))
	for _, rc := range routes {
		if rc.RouteID == "" {
			return nil, routererr.New(routererr.KindInvalidConfig, "route missing routeId")
		}
		if rc.EndpointType == "" {
			return nil, routererr.New(routererr.KindInvalidConfig, fmt.Sprintf("route %s missing endpointType", rc.RouteID))
		}
		if rc.EndpointURL == "" {
			return nil, routererr.New(routererr.KindInvalidConfig, fmt.Sprintf("route %s missing endpointUrl", rc.RouteID))
		}
		if _, dup := table[rc.RouteID]; dup {
			return nil, routererr.New(routererr.KindInvalidConfig, fmt.Sprintf("duplicate routeId %s", rc.RouteID))
		}
		if rc.StatusThresholdSeconds <= 0 {
			rc.StatusThresholdSeconds = defaultStatusThresholdSeconds
		}
		table[rc.RouteID] = rc
	}
	return table, nil
}

// Size returns the number of routes currently loaded, mostly for
// startup logging and health reporting.
func (r *Registry) Size() int {
	return len(*r.snapshot.Load())
}
