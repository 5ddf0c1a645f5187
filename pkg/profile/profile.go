// Package profile loads the stack file and resolves one named profile
// into the flat set of service descriptors the rest of stackctl operates
// on. Profiles share service shapes and differ only in environment values
// and the subset of services they launch.
package profile

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStackFilename = "stack.yaml"
	DefaultProfileName   = "standalone"
	DefaultMarkerPath    = ".stackctl/migrated"
)

type Condition string

const (
	ConditionStarted   Condition = "started"
	ConditionHealthy   Condition = "healthy"
	ConditionCompleted Condition = "completed"
)

type File struct {
	Version  int                `yaml:"version"`
	Marker   string             `yaml:"marker,omitempty"`
	Env      map[string]string  `yaml:"env,omitempty"`
	Install  []CommandStep      `yaml:"install,omitempty"`
	Migrate  *MigrateSpec       `yaml:"migrate,omitempty"`
	Services map[string]Service `yaml:"services"`
	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

type CommandStep struct {
	Name    string   `yaml:"name,omitempty"`
	Command []string `yaml:"command"`
	Cwd     string   `yaml:"cwd,omitempty"`
	// Tolerate marks the step non-fatal when its output contains this
	// substring (the duplicate-superuser case on re-runs).
	Tolerate string `yaml:"tolerate,omitempty"`
}

type MigrateSpec struct {
	Database  *DatabaseProbe `yaml:"database,omitempty"`
	Schema    []CommandStep  `yaml:"schema,omitempty"`
	Fixtures  []CommandStep  `yaml:"fixtures,omitempty"`
	Ownership *Ownership     `yaml:"ownership,omitempty"`
}

type DatabaseProbe struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

type Ownership struct {
	Paths []string `yaml:"paths"`
	Mode  string   `yaml:"mode,omitempty"`
}

type Service struct {
	Command    []string          `yaml:"command"`
	Cwd        string            `yaml:"cwd,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	OneShot    bool              `yaml:"one_shot,omitempty"`
	WaitMarker bool              `yaml:"wait_marker,omitempty"`
	Watch      []string          `yaml:"watch,omitempty"`
	Debounce   time.Duration     `yaml:"debounce,omitempty"`
	DependsOn  []Dependency      `yaml:"depends_on,omitempty"`
	Health     *HealthCheck      `yaml:"health,omitempty"`
}

type Dependency struct {
	Service   string    `yaml:"service"`
	Condition Condition `yaml:"condition,omitempty"`
}

type HealthCheck struct {
	Type         string        `yaml:"type"` // "tcp"|"http"|"exec"
	Address      string        `yaml:"address,omitempty"`
	URL          string        `yaml:"url,omitempty"`
	Command      []string      `yaml:"command,omitempty"`
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	Retries      int           `yaml:"retries,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
}

type Profile struct {
	Env       map[string]string   `yaml:"env,omitempty"`
	Services  []string            `yaml:"services,omitempty"`
	Overrides map[string]Override `yaml:"overrides,omitempty"`
}

type Override struct {
	Env     map[string]string `yaml:"env,omitempty"`
	Command []string          `yaml:"command,omitempty"`
}

// ServiceSpec is a fully resolved service descriptor: env overlays applied,
// profile overrides merged, ready for the launch planner.
type ServiceSpec struct {
	Name       string            `json:"name"`
	Command    []string          `json:"command"`
	Cwd        string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	OneShot    bool              `json:"one_shot,omitempty"`
	WaitMarker bool              `json:"wait_marker,omitempty"`
	Watch      []string          `json:"watch,omitempty"`
	Debounce   time.Duration     `json:"debounce,omitempty"`
	DependsOn  []Dependency      `json:"depends_on,omitempty"`
	Health     *HealthCheck      `json:"health,omitempty"`
}

// Resolved is the output of resolving one profile against the stack file.
// Env is the base-plus-profile overlay, what install and migration steps
// run with; per-service env is already folded into each ServiceSpec.
type Resolved struct {
	Profile  string            `json:"profile"`
	Marker   string            `json:"marker"`
	Env      map[string]string `json:"env,omitempty"`
	Install  []CommandStep     `json:"install,omitempty"`
	Migrate  *MigrateSpec      `json:"migrate,omitempty"`
	Services []ServiceSpec     `json:"services"`
}

func DefaultPath(root string) string {
	return filepath.Join(root, DefaultStackFilename)
}

func LoadFromFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read stack file")
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "parse stack yaml")
	}
	return &f, nil
}

func LoadOptional(path string) (*File, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, errors.Wrap(err, "stat stack file")
	}
	return LoadFromFile(path)
}

// Resolve applies the named profile to the stack file and validates the
// result. The marker path is returned relative to the stack root; callers
// join it against their root.
func (f *File) Resolve(profileName string) (*Resolved, error) {
	if len(f.Services) == 0 {
		return nil, errors.New("stack file declares no services")
	}
	if profileName == "" {
		profileName = DefaultProfileName
	}

	var prof Profile
	if len(f.Profiles) > 0 {
		p, ok := f.Profiles[profileName]
		if !ok {
			return nil, errors.Errorf("unknown profile %q", profileName)
		}
		prof = p
	}

	names := prof.Services
	if len(names) == 0 {
		names = make([]string, 0, len(f.Services))
		for name := range f.Services {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	selected := map[string]bool{}
	for _, name := range names {
		if _, ok := f.Services[name]; !ok {
			return nil, errors.Errorf("profile %q selects unknown service %q", profileName, name)
		}
		selected[name] = true
	}

	marker := f.Marker
	if marker == "" {
		marker = DefaultMarkerPath
	}

	specs := make([]ServiceSpec, 0, len(names))
	for _, name := range names {
		svc := f.Services[name]
		spec := ServiceSpec{
			Name:       name,
			Command:    append([]string{}, svc.Command...),
			Cwd:        svc.Cwd,
			Env:        overlayEnv(f.Env, prof.Env, svc.Env),
			OneShot:    svc.OneShot,
			WaitMarker: svc.WaitMarker,
			Watch:      append([]string{}, svc.Watch...),
			Debounce:   svc.Debounce,
			DependsOn:  append([]Dependency{}, svc.DependsOn...),
			Health:     svc.Health,
		}
		if ov, ok := prof.Overrides[name]; ok {
			if len(ov.Command) > 0 {
				spec.Command = append([]string{}, ov.Command...)
			}
			if len(ov.Env) > 0 {
				spec.Env = overlayEnv(spec.Env, ov.Env)
			}
		}
		for i := range spec.DependsOn {
			if spec.DependsOn[i].Condition == "" {
				spec.DependsOn[i].Condition = ConditionStarted
			}
		}
		specs = append(specs, spec)
	}

	r := &Resolved{
		Profile:  profileName,
		Marker:   marker,
		Env:      overlayEnv(f.Env, prof.Env),
		Install:  append([]CommandStep{}, f.Install...),
		Migrate:  f.Migrate,
		Services: specs,
	}
	if err := r.validate(selected); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resolved) validate(selected map[string]bool) error {
	byName := map[string]ServiceSpec{}
	for _, s := range r.Services {
		byName[s.Name] = s
	}
	for _, s := range r.Services {
		if len(s.Command) == 0 {
			return errors.Errorf("service %q missing command", s.Name)
		}
		if s.Health != nil {
			switch s.Health.Type {
			case "tcp":
				if s.Health.Address == "" {
					return errors.Errorf("service %q health tcp missing address", s.Name)
				}
			case "http":
				if s.Health.URL == "" && s.Health.Address == "" {
					return errors.Errorf("service %q health http missing url", s.Name)
				}
			case "exec":
				if len(s.Health.Command) == 0 {
					return errors.Errorf("service %q health exec missing command", s.Name)
				}
			default:
				return errors.Errorf("service %q unsupported health type %q", s.Name, s.Health.Type)
			}
		}
		for _, dep := range s.DependsOn {
			if dep.Service == s.Name {
				return errors.Errorf("service %q depends on itself", s.Name)
			}
			target, ok := byName[dep.Service]
			if !ok {
				if selected[dep.Service] {
					return errors.Errorf("service %q depends on unknown service %q", s.Name, dep.Service)
				}
				return errors.Errorf("service %q depends on %q which is not part of profile %q", s.Name, dep.Service, r.Profile)
			}
			switch dep.Condition {
			case ConditionStarted:
			case ConditionHealthy:
				if target.Health == nil {
					return errors.Errorf("service %q requires %q healthy but %q has no health check", s.Name, dep.Service, dep.Service)
				}
			case ConditionCompleted:
				if !target.OneShot {
					return errors.Errorf("service %q requires %q completed but %q is not one_shot", s.Name, dep.Service, dep.Service)
				}
			default:
				return errors.Errorf("service %q dependency on %q has unsupported condition %q", s.Name, dep.Service, dep.Condition)
			}
		}
	}
	return nil
}

// Service returns the resolved spec by name.
func (r *Resolved) Service(name string) (ServiceSpec, bool) {
	for _, s := range r.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

func overlayEnv(layers ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
