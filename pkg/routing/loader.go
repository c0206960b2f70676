package routing

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/takutakahashi/portalgate/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

type tableFile struct {
	Routes []struct {
		Path   string   `yaml:"path"`
		Roles  []string `yaml:"roles"`
		Public bool     `yaml:"public"`
		Prefix bool     `yaml:"prefix"`
	} `yaml:"routes"`
}

// LoadTable reads a YAML route table:
//
//	routes:
//	  - path: /reports
//	    roles: [teacher, admin]
//	    prefix: true
func LoadTable(r io.Reader) (*Table, error) {
	var doc tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse route table: %w", err)
	}

	routes := make([]Route, 0, len(doc.Routes))
	seen := make(map[string]bool)
	for i, raw := range doc.Routes {
		path := strings.TrimSpace(raw.Path)
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("route %d: path %q must start with /", i, raw.Path)
		}
		path = normalize(path)
		if seen[path] {
			return nil, fmt.Errorf("route %d: duplicate path %s", i, path)
		}
		seen[path] = true

		if raw.Public && len(raw.Roles) > 0 {
			return nil, fmt.Errorf("route %s: public routes cannot require roles", path)
		}

		route := Route{Path: path, Public: raw.Public, Prefix: raw.Prefix}
		for _, name := range raw.Roles {
			role, err := entities.ParseRole(name)
			if err != nil {
				return nil, fmt.Errorf("route %s: %w", path, err)
			}
			route.Roles = append(route.Roles, role)
		}
		routes = append(routes, route)
	}
	return NewTable(routes...), nil
}

// LoadTableFile reads a route table from a file and layers it over the
// default routes. Routes in the file replace defaults with the same path.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open route table: %w", err)
	}
	defer func() { _ = f.Close() }()

	custom, err := LoadTable(f)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultTable(), custom), nil
}

// Merge returns base with routes from overlay replacing or extending it
func Merge(base, overlay *Table) *Table {
	index := make(map[string]int)
	routes := base.Routes()
	for i, r := range routes {
		index[r.Path] = i
	}
	for _, r := range overlay.routes {
		if i, ok := index[r.Path]; ok {
			routes[i] = r
			continue
		}
		index[r.Path] = len(routes)
		routes = append(routes, r)
	}
	return NewTable(routes...)
}
