// Package manifest implements the pipeline deployment manifest: a
// declarative list of calculation jobs to deploy, with their input and
// output dataset bindings.
package manifest

import (
	"bytes"
	"fmt"

	"github.com/openjustice/pipeconf/internal/store"
	"gopkg.in/yaml.v3"
)

// Pipeline describes a single calculation job to deploy.
type Pipeline struct {
	// The calculation pipeline to run, e.g. "recidivism" or "supervision".
	// [required]
	Pipeline string `yaml:"pipeline"`
	// The unique name of the deployed job.
	// [required]
	JobName string `yaml:"job_name"`
	// The dataset the job reads its entities from.
	// [required]
	Input string `yaml:"input"`
	// An optional secondary dataset with reference tables.
	// [optional]
	ReferenceInput string `yaml:"reference_input,omitempty"`
	// The dataset the job writes metrics to.
	// [required]
	Output string `yaml:"output"`
}

// Manifest is the full deployment manifest.
type Manifest struct {
	// The number of pipeline records. Must equal len(Pipelines);
	// a quick tripwire against botched manual edits.
	PipelineCount int         `yaml:"pipeline_count"`
	Pipelines     []*Pipeline `yaml:"pipelines"`

	// The path the manifest was read from, for error messages.
	Path string `yaml:"-"`
}

// Read reads and strictly decodes a manifest from the store.
func Read(st store.Store, path string) (*Manifest, error) {
	bs, err := st.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(bs))
	dec.KnownFields(true)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("invalid manifest YAML in %q: %w", path, err)
	}
	m.Path = path
	return &m, nil
}

// Validate checks the structural properties of the manifest:
// pipeline_count matches the list length, required fields are non-empty,
// and job names are unique.
func (m *Manifest) Validate() error {
	if m.PipelineCount != len(m.Pipelines) {
		return fmt.Errorf("pipeline_count is %d, but %d pipelines are listed",
			m.PipelineCount, len(m.Pipelines))
	}
	jobNames := map[string]bool{}
	for i, p := range m.Pipelines {
		if p == nil {
			return fmt.Errorf("pipelines[%d] is empty", i)
		}
		if p.Pipeline == "" {
			return fmt.Errorf("pipelines[%d] has no pipeline", i)
		}
		if p.JobName == "" {
			return fmt.Errorf("pipelines[%d] (%s) has no job_name", i, p.Pipeline)
		}
		if p.Input == "" {
			return fmt.Errorf("job %q has no input", p.JobName)
		}
		if p.Output == "" {
			return fmt.Errorf("job %q has no output", p.JobName)
		}
		if jobNames[p.JobName] {
			return fmt.Errorf("duplicate job_name %q", p.JobName)
		}
		jobNames[p.JobName] = true
	}
	return nil
}

// Job returns the pipeline record with the given job name, or nil.
func (m *Manifest) Job(jobName string) *Pipeline {
	for _, p := range m.Pipelines {
		if p.JobName == jobName {
			return p
		}
	}
	return nil
}

// Filter returns the pipeline records matching the given filter.
// A nil filter matches everything.
func (m *Manifest) Filter(f *Filter) ([]*Pipeline, error) {
	if f == nil {
		return m.Pipelines, nil
	}
	var result []*Pipeline
	for _, p := range m.Pipelines {
		ok, err := f.Matches(p)
		if err != nil {
			return nil, fmt.Errorf("filter failed on job %q: %w", p.JobName, err)
		}
		if ok {
			result = append(result, p)
		}
	}
	return result, nil
}
