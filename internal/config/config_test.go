package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleDoc = `
routes:
  - routeId: R1
    endpointType: REST
    endpointUrl: http://conductor.internal/api
    userId: svc-router
    password: ${ROUTER_TEST_SECRET}
    statusThresholdSeconds: 60
    properties:
      region: us-east
  - routeId: R2
    endpointType: SOAP
    endpointUrl: http://controlcenter.internal/ws
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "routes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesRoutes(t *testing.T) {
	t.Setenv("ROUTER_TEST_SECRET", "hunter2")
	path := writeConfig(t, sampleDoc)

	routes, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(routes) != 2 {
		t.Fatalf("routes = %d, want 2", len(routes))
	}

	r1 := routes[0]
	if r1.RouteID != "R1" || r1.EndpointType != "REST" {
		t.Errorf("r1 = %+v", r1)
	}
	if r1.Password != "hunter2" {
		t.Errorf("password = %q, want env-expanded value", r1.Password)
	}
	if r1.StatusThresholdSeconds != 60 {
		t.Errorf("threshold = %d, want 60", r1.StatusThresholdSeconds)
	}
	if r1.Properties["region"] != "us-east" {
		t.Errorf("properties = %+v", r1.Properties)
	}

	if routes[1].StatusThresholdSeconds != 0 {
		t.Errorf("unset threshold = %d, want 0 (registry applies the default)", routes[1].StatusThresholdSeconds)
	}
}

func TestLoadUnsetEnvLeftVerbatim(t *testing.T) {
	path := writeConfig(t, "routes:\n  - routeId: R1\n    endpointType: REST\n    endpointUrl: http://a\n    password: ${DEFINITELY_NOT_SET_ANYWHERE}\n")

	routes, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if routes[0].Password != "${DEFINITELY_NOT_SET_ANYWHERE}" {
		t.Errorf("password = %q, want unexpanded placeholder", routes[0].Password)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "routes: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSettingsFromEnvDefaults(t *testing.T) {
	s, err := SettingsFromEnv()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.PollerConcurrency != 16 {
		t.Errorf("poller concurrency = %d, want 16", s.PollerConcurrency)
	}
	if s.RefreshLeaseTTL.Seconds() != 30 {
		t.Errorf("lease ttl = %v, want 30s", s.RefreshLeaseTTL)
	}
}

func TestSettingsFromEnvOverrides(t *testing.T) {
	t.Setenv("POLLER_INTERVAL", "5s")
	t.Setenv("POLLER_CONCURRENCY", "4")

	s, err := SettingsFromEnv()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.PollerInterval.Seconds() != 5 {
		t.Errorf("interval = %v, want 5s", s.PollerInterval)
	}
	if s.PollerConcurrency != 4 {
		t.Errorf("concurrency = %d, want 4", s.PollerConcurrency)
	}
}

func TestSettingsFromEnvBadDuration(t *testing.T) {
	t.Setenv("POLLER_INTERVAL", "not-a-duration")
	if _, err := SettingsFromEnv(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
