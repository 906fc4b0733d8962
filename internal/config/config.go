// Package config loads the route configuration document (one entry per
// route) and watches it for changes, feeding Registry.Reload() on
// modification. ${VAR} environment-variable expansion runs before YAML
// parsing so credentials can stay out of the file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flowctl/workflowrouter/internal/registry"
)

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Document is the on-disk shape of the route configuration source.
type Document struct {
	Routes []routeEntry `yaml:"routes"`
}

type routeEntry struct {
	RouteID                string                 `yaml:"routeId"`
	EndpointType           string                 `yaml:"endpointType"`
	EndpointURL            string                 `yaml:"endpointUrl"`
	UserID                 string                 `yaml:"userId"`
	Password               string                 `yaml:"password"`
	Properties             map[string]interface{} `yaml:"properties"`
	StatusThresholdSeconds int                    `yaml:"statusThresholdSeconds"`
}

// Load reads and parses the route configuration file at path, expanding
// ${VAR} references against the process environment first.
func Load(path string) ([]registry.RouteConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading route config %s: %w", path, err)
	}

	expanded := expandEnv(string(raw))

	var doc Document
	if err := yaml.Unmarshal([]byte(expanded), &doc); err != nil {
		return nil, fmt.Errorf("parsing route config %s: %w", path, err)
	}

	routes := make([]registry.RouteConfig, 0, len(doc.Routes))
	for _, e := range doc.Routes {
		routes = append(routes, registry.RouteConfig{
			RouteID:                e.RouteID,
			EndpointType:           e.EndpointType,
			EndpointURL:            e.EndpointURL,
			UserID:                 e.UserID,
			Password:               e.Password,
			Properties:             e.Properties,
			StatusThresholdSeconds: e.StatusThresholdSeconds,
		})
	}
	return routes, nil
}

func expandEnv(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}
