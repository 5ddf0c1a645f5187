package profile

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// yaml.v3 has no native time.Duration support; duration decodes "400ms"
// style strings (and bare integers, taken as seconds) for the stack file's
// timing fields.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return errors.Wrapf(err, "parse duration %q", s)
		}
		*d = duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err == nil {
		*d = duration(time.Duration(n) * time.Second)
		return nil
	}
	return errors.Errorf("invalid duration value %q", node.Value)
}

func (s *Service) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Command    []string          `yaml:"command"`
		Cwd        string            `yaml:"cwd,omitempty"`
		Env        map[string]string `yaml:"env,omitempty"`
		OneShot    bool              `yaml:"one_shot,omitempty"`
		WaitMarker bool              `yaml:"wait_marker,omitempty"`
		Watch      []string          `yaml:"watch,omitempty"`
		Debounce   duration          `yaml:"debounce,omitempty"`
		DependsOn  []Dependency      `yaml:"depends_on,omitempty"`
		Health     *HealthCheck      `yaml:"health,omitempty"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*s = Service{
		Command:    r.Command,
		Cwd:        r.Cwd,
		Env:        r.Env,
		OneShot:    r.OneShot,
		WaitMarker: r.WaitMarker,
		Watch:      r.Watch,
		Debounce:   time.Duration(r.Debounce),
		DependsOn:  r.DependsOn,
		Health:     r.Health,
	}
	return nil
}

func (h *HealthCheck) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Type         string   `yaml:"type"`
		Address      string   `yaml:"address,omitempty"`
		URL          string   `yaml:"url,omitempty"`
		Command      []string `yaml:"command,omitempty"`
		Interval     duration `yaml:"interval,omitempty"`
		Timeout      duration `yaml:"timeout,omitempty"`
		Retries      int      `yaml:"retries,omitempty"`
		InitialDelay duration `yaml:"initial_delay,omitempty"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*h = HealthCheck{
		Type:         r.Type,
		Address:      r.Address,
		URL:          r.URL,
		Command:      r.Command,
		Interval:     time.Duration(r.Interval),
		Timeout:      time.Duration(r.Timeout),
		Retries:      r.Retries,
		InitialDelay: time.Duration(r.InitialDelay),
	}
	return nil
}

func (p *DatabaseProbe) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		Address string   `yaml:"address"`
		Timeout duration `yaml:"timeout,omitempty"`
	}
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*p = DatabaseProbe{Address: r.Address, Timeout: time.Duration(r.Timeout)}
	return nil
}
