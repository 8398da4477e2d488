package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openjustice/pipeconf/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validManifest = `
pipeline_count: 3
pipelines:
  - pipeline: recidivism
    job_name: recidivism-calculations-36
    input: state
    reference_input: reference_tables
    output: dataflow_metrics
  - pipeline: recidivism
    job_name: recidivism-calculations-historical
    input: state_historical
    output: dataflow_metrics
  - pipeline: supervision
    job_name: supervision-calculations-36
    input: state
    output: dataflow_metrics
`

func readManifest(t *testing.T, content string) (*Manifest, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "calculation_pipeline_templates.yaml"), []byte(content), 0644))
	return Read(store.NewDiskStore(dir), "calculation_pipeline_templates.yaml")
}

func TestReadManifest(t *testing.T) {
	m, err := readManifest(t, validManifest)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, 3, m.PipelineCount)
	assert.Len(t, m.Pipelines, 3)
	assert.Equal(t, "recidivism", m.Pipelines[0].Pipeline)
	assert.Equal(t, "reference_tables", m.Pipelines[0].ReferenceInput)
	assert.Empty(t, m.Pipelines[1].ReferenceInput)
}

func TestReadManifestUnknownField(t *testing.T) {
	_, err := readManifest(t, "pipeline_count: 0\npipelines: []\nextra: true\n")
	assert.Error(t, err)
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "count mismatch",
			content: "pipeline_count: 2\npipelines:\n  - pipeline: p\n    job_name: j\n    input: i\n    output: o\n",
			wantErr: "pipeline_count is 2, but 1 pipelines are listed",
		},
		{
			name: "duplicate job name",
			content: `pipeline_count: 2
pipelines:
  - pipeline: p
    job_name: j
    input: i
    output: o
  - pipeline: p
    job_name: j
    input: i2
    output: o2
`,
			wantErr: `duplicate job_name "j"`,
		},
		{
			name:    "missing input",
			content: "pipeline_count: 1\npipelines:\n  - pipeline: p\n    job_name: j\n    output: o\n",
			wantErr: `job "j" has no input`,
		},
		{
			name:    "missing job name",
			content: "pipeline_count: 1\npipelines:\n  - pipeline: p\n    input: i\n    output: o\n",
			wantErr: "has no job_name",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := readManifest(t, tc.content)
			require.NoError(t, err)
			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestJob(t *testing.T) {
	m, err := readManifest(t, validManifest)
	require.NoError(t, err)

	p := m.Job("supervision-calculations-36")
	require.NotNil(t, p)
	assert.Equal(t, "supervision", p.Pipeline)

	assert.Nil(t, m.Job("no-such-job"))
}
