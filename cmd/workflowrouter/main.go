package main

import (
	"context"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/flowctl/workflowrouter/internal/callback"
	"github.com/flowctl/workflowrouter/internal/config"
	"github.com/flowctl/workflowrouter/internal/driver"
	"github.com/flowctl/workflowrouter/internal/driver/rest"
	"github.com/flowctl/workflowrouter/internal/driver/soap"
	"github.com/flowctl/workflowrouter/internal/lease"
	"github.com/flowctl/workflowrouter/internal/poller"
	"github.com/flowctl/workflowrouter/internal/registry"
	"github.com/flowctl/workflowrouter/internal/router"
	"github.com/flowctl/workflowrouter/internal/statuscache"
	"github.com/flowctl/workflowrouter/internal/submissionstore"
)

func main() {
	ctx := context.Background()

	settings, err := config.SettingsFromEnv()
	if err != nil {
		log.Fatalf("Failed to read settings: %v", err)
	}

	// Route configuration: fatal at startup, hot-reloadable after.
	routes, err := config.Load(settings.RouteConfigPath)
	if err != nil {
		log.Fatalf("Failed to load route configuration: %v", err)
	}

	reg := registry.New()
	if err := reg.Reload(routes); err != nil {
		log.Fatalf("Invalid route configuration: %v", err)
	}
	log.Printf("Loaded %d routes from %s", reg.Size(), settings.RouteConfigPath)

	// Driver set: one driver per endpoint kind, registered once. Unknown
	// endpointType tokens in the config are a startup failure.
	selector := driver.NewSelector()
	selector.Register(soap.New())
	selector.Register(rest.New())
	for _, rc := range routes {
		if _, err := selector.Resolve(rc.EndpointType); err != nil {
			log.Fatalf("Route %s references unknown endpoint type %s", rc.RouteID, rc.EndpointType)
		}
	}

	// Submission store: Postgres when a DSN is configured, in-memory
	// otherwise (single-node development only).
	var store submissionstore.Store
	if settings.PostgresDSN != "" {
		pgStore, err := submissionstore.NewPostgresStore(ctx, settings.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		log.Printf("✅ Connected to Postgres for submission storage")
	} else {
		store = submissionstore.NewMemoryStore()
		log.Printf("⚠️ POSTGRES_DSN not set. Using in-memory submission store (single-node, ephemeral)")
	}

	// Response cache + refresh lease: Redis when reachable. The lease is
	// the one cross-process mutex, so without Redis the at-most-one
	// refresh guarantee only holds within this process.
	var cache statuscache.Cache
	var leaser lease.Leaser
	redisClient := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable at %s, using in-process cache and lease (unsafe for multi-instance): %v", settings.RedisAddr, err)
		cache = statuscache.NewMemoryCache()
		leaser = lease.NewMemoryLeaser(settings.RefreshLeaseTTL)
	} else {
		log.Printf("✅ Connected to Redis at %s for response cache and refresh leases", settings.RedisAddr)
		cache = statuscache.New(redisClient).WithTTLs(settings.TerminalTTL, settings.NonTerminalTTL)
		leaser = lease.New(redisClient, settings.RefreshLeaseTTL)
	}

	core := router.New(reg, store, cache, leaser, selector)
	core.SetDriverTimeout(settings.DriverTimeout)
	core.SetCacheTimeout(settings.CacheTimeout)

	hub := NewStreamHub()
	core.AddListener(hub)
	go hub.Run(ctx)

	sink := callback.New(reg, selector, store, core)

	statusPoller := poller.New(store, reg, core)
	statusPoller.SetInterval(settings.PollerInterval)
	statusPoller.SetConcurrency(settings.PollerConcurrency)
	statusPoller.Start(ctx)

	// Hot reload on config file change; a bad file keeps the previous
	// snapshot in effect.
	watcher, err := config.NewWatcher(settings.RouteConfigPath)
	if err != nil {
		log.Printf("⚠️ Config watch disabled: %v", err)
	} else {
		watcher.Start(ctx, reg.Reload)
	}

	api := NewAPI(core, sink, hub, settings.MaxParameterBytes)

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	http.HandleFunc("/workflows/submit", api.handleSubmit)
	http.HandleFunc("/workflows/status", api.handleStatus)
	http.HandleFunc("/workflows/status/", api.handleStatus)
	http.HandleFunc("/workflows/callback", api.handleCallback)
	http.HandleFunc("/workflows/stream", api.handleStream)

	http.Handle("/metrics", promhttp.Handler())

	log.Printf("Workflow router listening on %s", settings.ListenAddr)
	log.Fatal(http.ListenAndServe(settings.ListenAddr, nil))
}
