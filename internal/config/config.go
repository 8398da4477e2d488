package config

import (
	"bytes"
	"fmt"

	"github.com/openjustice/pipeconf/internal/deploy"
	"github.com/openjustice/pipeconf/internal/docs"
	"github.com/openjustice/pipeconf/internal/rules"
	"github.com/openjustice/pipeconf/internal/store"
	"gopkg.in/yaml.v3"
)

// Bundle is the umbrella struct for the serialized application configuration YAML.
// It bundles the package-specific configurations.
type Bundle struct {
	Rules  *rules.Config `yaml:"rules"`
	Deploy deploy.Config `yaml:"deploy"`
	Docs   docs.Config   `yaml:"docs"`
}

func Load(st store.Store, configPath string) (*Bundle, error) {
	bs, err := st.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("could not read config %q: %v", configPath, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	var bundle Bundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("invalid configuration YAML in %q: %v", configPath, err)
	}
	bundle.Deploy = bundle.Deploy.WithDefaults()
	bundle.Docs = bundle.Docs.WithDefaults()
	return &bundle, nil
}
