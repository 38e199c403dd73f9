// Package ordering loads schedule ordering constraints from YAML so they can live next to a game's
// configuration instead of in code.
//
// Example file:
//
//	schedules:
//	  update:
//	    sync_points:
//	      - name: flush-spawns
//	        after: [spawner]
//	    order:
//	      - system: movement
//	        after: [input]
//	        before: [collision]
package ordering

import (
	"errors"
	"io"
	"os"

	"github.com/argus-labs/ecs-core/pkg/ecs"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Config maps schedule names to their ordering. Names are the hook names ("pre-update", "update",
// "post-update", "init") or the name of a schedule passed to ApplySchedule.
type Config struct {
	Schedules map[string]ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig holds the constraints of one schedule.
type ScheduleConfig struct {
	SyncPoints []SyncPoint `yaml:"sync_points,omitempty"`
	Order      []Rule      `yaml:"order,omitempty"`
}

// SyncPoint adds a sync point with its own ordering.
type SyncPoint struct {
	Name   string   `yaml:"name"`
	Before []string `yaml:"before,omitempty"`
	After  []string `yaml:"after,omitempty"`
}

// Rule orders one system relative to others.
type Rule struct {
	System string   `yaml:"system"`
	Before []string `yaml:"before,omitempty"`
	After  []string `yaml:"after,omitempty"`
}

// LoadYAML loads config from a YAML reader.
func LoadYAML(r io.Reader) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return &Config{}, nil
		}
		return nil, eris.Wrap(err, "failed to decode ordering config")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile loads config from a YAML file.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open ordering config %s", path)
	}
	defer f.Close()
	return LoadYAML(f)
}

func (c *Config) validate() error {
	for name, schedule := range c.Schedules {
		for i, sp := range schedule.SyncPoints {
			if sp.Name == "" {
				return eris.Errorf("schedule %s: sync point %d has no name", name, i)
			}
		}
		for i, rule := range schedule.Order {
			if rule.System == "" {
				return eris.Errorf("schedule %s: rule %d has no system", name, i)
			}
		}
	}
	return nil
}

// Apply adds the constraints to the world's hook schedules. Every schedule name must be a hook
// name. Unknown system names are reported when the schedules are built.
func (c *Config) Apply(w *ecs.World) error {
	hooks := make(map[string]*ecs.Schedule)
	for _, hook := range []ecs.SystemHook{ecs.PreUpdate, ecs.Update, ecs.PostUpdate, ecs.Init} {
		hooks[hook.String()] = w.Schedule(hook)
	}
	for name := range c.Schedules {
		if _, ok := hooks[name]; !ok {
			return eris.Errorf("unknown schedule %s", name)
		}
	}
	for name, s := range hooks {
		if err := c.ApplySchedule(name, s); err != nil {
			return err
		}
	}
	return nil
}

// ApplySchedule adds the constraints configured under name to s. It does nothing if the config has
// no entry for name.
func (c *Config) ApplySchedule(name string, s *ecs.Schedule) error {
	schedule, ok := c.Schedules[name]
	if !ok {
		return nil
	}
	for _, sp := range schedule.SyncPoints {
		opts := make([]ecs.SystemOption, 0, len(sp.Before)+len(sp.After))
		for _, before := range sp.Before {
			opts = append(opts, ecs.Before(before))
		}
		for _, after := range sp.After {
			opts = append(opts, ecs.After(after))
		}
		if err := s.AddSyncPoint(sp.Name, opts...); err != nil {
			return eris.Wrapf(err, "failed to add sync point %s to %s", sp.Name, name)
		}
	}
	for _, rule := range schedule.Order {
		for _, before := range rule.Before {
			if err := s.Order(rule.System, before); err != nil {
				return eris.Wrapf(err, "failed to order %s before %s", rule.System, before)
			}
		}
		for _, after := range rule.After {
			if err := s.Order(after, rule.System); err != nil {
				return eris.Wrapf(err, "failed to order %s after %s", rule.System, after)
			}
		}
	}
	return nil
}
