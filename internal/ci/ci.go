// Package ci implements a typed loader and validator for the
// continuous-integration configuration file: service definitions,
// install/test steps, branch filters, and encrypted secrets.
package ci

import (
	"bytes"
	"fmt"

	"github.com/openjustice/pipeconf/internal/deploy"
	"github.com/openjustice/pipeconf/internal/store"
	"gopkg.in/yaml.v3"
)

// Secure is an encrypted secret value. The plaintext is only available
// to the CI runtime; this tooling treats it as opaque.
type Secure struct {
	Secure string `yaml:"secure"`
}

// Branches restricts which branches trigger CI runs.
type Branches struct {
	Only []string `yaml:"only,omitempty"`
}

// Cache declares directories the CI runtime caches between runs.
type Cache struct {
	Directories []string `yaml:"directories,omitempty"`
}

// Notifications configures notification channels, each authenticated
// with an encrypted token.
type Notifications struct {
	Slack *Secure `yaml:"slack,omitempty"`
}

// Config is the top-level CI configuration.
type Config struct {
	Language     string         `yaml:"language,omitempty"`
	Services     []string       `yaml:"services,omitempty"`
	Cache        *Cache         `yaml:"cache,omitempty"`
	Install      []string       `yaml:"install,omitempty"`
	BeforeScript []string       `yaml:"before_script,omitempty"`
	Script       []string       `yaml:"script,omitempty"`
	AfterSuccess []string       `yaml:"after_success,omitempty"`
	Branches     *Branches      `yaml:"branches,omitempty"`
	Env          *Env           `yaml:"env,omitempty"`
	Notification *Notifications `yaml:"notifications,omitempty"`

	Path string `yaml:"-"`
}

// Env holds global environment settings, including encrypted credentials.
type Env struct {
	Global []EnvEntry `yaml:"global,omitempty"`
}

// EnvEntry is either a plain KEY=value assignment or an encrypted secret.
type EnvEntry struct {
	Plain  string
	Secure string
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for EnvEntry.
// Entries are either plain strings or { secure: ... } mappings.
func (e *EnvEntry) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		e.Plain = value.Value
		return nil
	case yaml.MappingNode:
		var aux struct {
			Secure string `yaml:"secure"`
		}
		if err := value.Decode(&aux); err != nil {
			return err
		}
		e.Secure = aux.Secure
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into env entry", value.Tag)
}

// Read reads and strictly decodes the CI configuration from the store.
func Read(st store.Store, path string) (*Config, error) {
	bs, err := st.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("invalid CI configuration in %q: %w", path, err)
	}
	c.Path = path
	return &c, nil
}

// Validate checks the structural properties of the CI configuration.
func (c *Config) Validate() error {
	if len(c.Script) == 0 {
		return fmt.Errorf("CI configuration has no script steps")
	}
	for i, s := range c.Script {
		if s == "" {
			return fmt.Errorf("script[%d] is empty", i)
		}
	}
	if c.Branches != nil {
		for i, b := range c.Branches.Only {
			if b == "" {
				return fmt.Errorf("branches.only[%d] is empty", i)
			}
		}
	}
	if c.Env != nil {
		for i, e := range c.Env.Global {
			if e.Plain == "" && e.Secure == "" {
				return fmt.Errorf("env.global[%d] is empty", i)
			}
		}
	}
	if c.Notification != nil && c.Notification.Slack != nil && c.Notification.Slack.Secure == "" {
		return fmt.Errorf("notifications.slack has an empty secure token")
	}
	return nil
}

// Stage is a named, ordered list of shell commands.
type Stage struct {
	Name     string
	Commands []string
}

// Stages returns the CI run as an ordered list of stages, empty stages
// omitted. The commands run sequentially; the first failure halts the run.
func (c *Config) Stages() []Stage {
	var stages []Stage
	add := func(name string, commands []string) {
		if len(commands) > 0 {
			stages = append(stages, Stage{Name: name, Commands: commands})
		}
	}
	add("install", c.Install)
	add("before_script", c.BeforeScript)
	add("script", c.Script)
	add("after_success", c.AfterSuccess)
	return stages
}

// Steps converts the CI stages into an executable step plan for
// deploy.Runner. Each command runs through the shell, as the CI runtime
// would run it.
func (c *Config) Steps() []deploy.Step {
	var steps []deploy.Step
	for _, stage := range c.Stages() {
		for i, cmd := range stage.Commands {
			steps = append(steps, deploy.Step{
				Name: fmt.Sprintf("%s[%d]", stage.Name, i),
				Argv: []string{"sh", "-c", cmd},
			})
		}
	}
	return steps
}

// RunsOnBranch reports whether CI runs for the given branch.
// Without a branch filter, all branches run.
func (c *Config) RunsOnBranch(branch string) bool {
	if c.Branches == nil || len(c.Branches.Only) == 0 {
		return true
	}
	for _, b := range c.Branches.Only {
		if b == branch {
			return true
		}
	}
	return false
}
