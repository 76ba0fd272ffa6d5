// Package deployments maps deployment names (the fleet a notification came
// from) onto the numeric ids stored on every raw event row.
package deployments

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Deployment is one control-plane fleet feeding the pipeline.
type Deployment struct {
	Name   string `toml:"name"`   // display name; defaults to the map key
	ID     int64  `toml:"id"`     // numeric id on RawData.Deployment
	Region string `toml:"region"` // informational
}

// Builtin contains the default deployments compiled into the binary. A
// deployments.toml file extends or overrides these.
var Builtin = map[string]Deployment{
	"local": {Name: "local", ID: 1},
}

// file is the on-disk shape:
//
//	[deployments.ord-prod]
//	id = 2
//	region = "ord"
type file struct {
	Deployments map[string]Deployment `toml:"deployments"`
}

// Registry resolves deployment names to ids.
type Registry struct {
	byName map[string]Deployment
}

// Load merges the builtin deployments with the TOML file at path. A missing
// file (or empty path) yields the builtins alone.
func Load(path string) (*Registry, error) {
	byName := make(map[string]Deployment, len(Builtin))
	for name, d := range Builtin {
		byName[name] = d
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err == nil {
			var f file
			if err := toml.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			for name, d := range f.Deployments {
				if d.Name == "" {
					d.Name = name
				}
				byName[name] = d
			}
		}
	}

	return &Registry{byName: byName}, nil
}

// Resolve looks up a deployment by name.
func (r *Registry) Resolve(name string) (Deployment, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// ID resolves a deployment name to its numeric id. A purely numeric name is
// accepted as a literal id, so subjects can carry either form.
func (r *Registry) ID(name string) (int64, error) {
	if d, ok := r.byName[name]; ok {
		return d.ID, nil
	}
	if id, err := strconv.ParseInt(name, 10, 64); err == nil {
		return id, nil
	}
	return 0, fmt.Errorf("unknown deployment %q", name)
}

// Names returns the registered deployment names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
