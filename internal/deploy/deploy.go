// Package deploy implements the deployment orchestrator: it decrypts and
// activates the deployment credentials, tags and pushes the release
// container image, deploys the application, and installs the scheduled
// calculation jobs named by the pipeline manifest.
package deploy

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a wrapper around time.Duration to allow for YAML
// unmarshaling from strings like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config holds the deployment configuration (the "deploy" section of the
// configuration bundle).
type Config struct {
	// The cloud project to deploy into.
	Project string `yaml:"project"`
	// The container image repository, e.g. "gcr.io/my-project/pipelines".
	ImageRepo string `yaml:"imageRepo"`
	// Path to the application deployment descriptor.
	AppConfig string `yaml:"appConfig"`
	// The Kubernetes namespace for the scheduled calculation jobs.
	Namespace string `yaml:"namespace"`
	// Path to the kubeconfig file. Empty means in-cluster configuration.
	Kubeconfig string `yaml:"kubeconfig"`
	// Cron schedule for the calculation jobs.
	Schedule string `yaml:"schedule"`
	// Maximum duration of a single deployment step.
	StepTimeout Duration `yaml:"stepTimeout"`
	// KMS parameters for decrypting the service-account key.
	KMSKeyring string `yaml:"kmsKeyring"`
	KMSKey     string `yaml:"kmsKey"`
	// Path to the encrypted service-account key file.
	EncryptedKeyFile string `yaml:"encryptedKeyFile"`
	// Path the decrypted service-account key is written to.
	ServiceAccountKeyFile string `yaml:"serviceAccountKeyFile"`
}

const (
	DefaultSchedule    = "0 6 * * *" // daily, after the nightly ingest
	DefaultStepTimeout = 10 * time.Minute
)

// WithDefaults returns a copy of c with unset optional fields populated.
func (c Config) WithDefaults() Config {
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = Duration(DefaultStepTimeout)
	}
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	return c
}

// Validate checks that all required deployment parameters are set.
func (c *Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"project", c.Project},
		{"imageRepo", c.ImageRepo},
		{"appConfig", c.AppConfig},
		{"kmsKeyring", c.KMSKeyring},
		{"kmsKey", c.KMSKey},
		{"encryptedKeyFile", c.EncryptedKeyFile},
		{"serviceAccountKeyFile", c.ServiceAccountKeyFile},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("deploy configuration is missing %q", r.name)
		}
	}
	return nil
}

// Step is a single external command of the deployment plan.
type Step struct {
	Name string
	Argv []string
}

func (s *Step) String() string {
	return fmt.Sprintf("%s: %s", s.Name, strings.Join(s.Argv, " "))
}

// Plan builds the ordered deployment steps for a release tag.
// The scheduled calculation jobs are not part of the plan; they are
// applied via the Kubernetes API by CronDeployer.
func Plan(cfg Config, releaseTag string) ([]Step, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !IsReleaseTag(releaseTag) {
		return nil, fmt.Errorf("%q is not a valid release tag", releaseTag)
	}

	image := cfg.ImageRepo + ":" + releaseTag
	return []Step{
		{
			Name: "decrypt-service-account-key",
			Argv: []string{
				"gcloud", "kms", "decrypt",
				"--project", cfg.Project,
				"--location", "global",
				"--keyring", cfg.KMSKeyring,
				"--key", cfg.KMSKey,
				"--ciphertext-file", cfg.EncryptedKeyFile,
				"--plaintext-file", cfg.ServiceAccountKeyFile,
			},
		},
		{
			Name: "activate-service-account",
			Argv: []string{
				"gcloud", "auth", "activate-service-account",
				"--project", cfg.Project,
				"--key-file", cfg.ServiceAccountKeyFile,
			},
		},
		{
			Name: "tag-image",
			Argv: []string{"docker", "tag", cfg.ImageRepo + ":latest", image},
		},
		{
			Name: "push-image",
			Argv: []string{"docker", "push", image},
		},
		{
			Name: "deploy-app",
			Argv: []string{
				"gcloud", "app", "deploy", cfg.AppConfig,
				"--project", cfg.Project,
				"--version", versionFromTag(releaseTag),
				"--quiet",
			},
		},
	}, nil
}

// versionFromTag turns a release tag into a deployable version identifier
// (e.g. "v1.2.3" -> "v1-2-3").
func versionFromTag(tag string) string {
	return strings.ReplaceAll(tag, ".", "-")
}

// Runner executes a deployment plan step by step.
// A failing step halts the run, like a shell script under "set -e".
type Runner struct {
	timeout time.Duration
	out     io.Writer
	dryRun  bool

	// Replaced in tests.
	execCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func NewRunner(timeout time.Duration, out io.Writer, dryRun bool) *Runner {
	return &Runner{
		timeout: timeout,
		out:     out,
		dryRun:  dryRun,
		execCommand: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			return cmd.CombinedOutput()
		},
	}
}

// Run executes the given steps in order. In dry-run mode the steps are
// only printed.
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	for i := range steps {
		step := &steps[i]
		if r.dryRun {
			fmt.Fprintf(r.out, "DRY-RUN %s\n", step)
			continue
		}
		log.Printf("Running step %s", step.Name)
		stepCtx, cancel := context.WithTimeout(ctx, r.timeout)
		output, err := r.execCommand(stepCtx, step.Argv[0], step.Argv[1:]...)
		cancel()
		if len(output) > 0 {
			fmt.Fprintf(r.out, "%s", output)
		}
		if err != nil {
			return fmt.Errorf("step %s failed: %v", step.Name, err)
		}
	}
	return nil
}
