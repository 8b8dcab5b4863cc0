package probes

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/veggerby/ignition"
)

// Manifest is a declarative list of probes, typically loaded from a YAML
// file shipped with the service.
type Manifest struct {
	Probes []Spec `yaml:"probes"`
}

// Spec declares one probe. Durations are Go duration strings ("250ms", "5s").
type Spec struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Target    string   `yaml:"target"`
	Timeout   string   `yaml:"timeout"`
	Interval  string   `yaml:"interval"`
	Stage     int      `yaml:"stage"`
	DependsOn []string `yaml:"dependsOn"`
}

// Builder turns a probe target into a check. The caller supplies one builder
// per probe type, wiring in whichever drivers the service actually uses.
type Builder func(target string) Check

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse probe manifest: %w", err)
	}
	for i, spec := range m.Probes {
		if spec.Name == "" {
			return nil, fmt.Errorf("probe %d: missing name", i)
		}
		if spec.Type == "" {
			return nil, fmt.Errorf("probe %q: missing type", spec.Name)
		}
	}
	return &m, nil
}

// Registrations materializes the manifest into signal registrations using
// the given builders. Unknown probe types are an error.
func (m *Manifest) Registrations(builders map[string]Builder) ([]ignition.Registration, error) {
	regs := make([]ignition.Registration, 0, len(m.Probes))
	for _, spec := range m.Probes {
		build, ok := builders[spec.Type]
		if !ok {
			return nil, fmt.Errorf("probe %q: no builder for type %q", spec.Name, spec.Type)
		}

		var opts []Option
		if spec.Interval != "" {
			d, err := time.ParseDuration(spec.Interval)
			if err != nil {
				return nil, fmt.Errorf("probe %q: interval: %w", spec.Name, err)
			}
			opts = append(opts, WithInterval(d))
		}
		if spec.Timeout != "" {
			d, err := time.ParseDuration(spec.Timeout)
			if err != nil {
				return nil, fmt.Errorf("probe %q: timeout: %w", spec.Name, err)
			}
			opts = append(opts, WithTimeout(d))
		}

		regs = append(regs, ignition.Registration{
			Signal:    Poll(spec.Name, build(spec.Target), opts...),
			Stage:     spec.Stage,
			DependsOn: spec.DependsOn,
		})
	}
	return regs, nil
}
