package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/openjustice/pipeconf/internal/config"
	"github.com/openjustice/pipeconf/internal/deploy"
	"github.com/openjustice/pipeconf/internal/docs"
	"github.com/openjustice/pipeconf/internal/extract"
	"github.com/openjustice/pipeconf/internal/gitclient"
	"github.com/openjustice/pipeconf/internal/manifest"
	"github.com/openjustice/pipeconf/internal/repo"
	"github.com/openjustice/pipeconf/internal/store"
	"github.com/peterbourgon/ff/v3"
	"gopkg.in/yaml.v3"
)

var (
	// Version is the application version.
	// It is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
)

func gitClientAuthFromEnv() *gitclient.Auth {
	user := os.Getenv("PIPECONF_GIT_USER")
	if user == "" {
		return nil
	}
	pass := os.Getenv("PIPECONF_GIT_PASSWORD")
	return &gitclient.Auth{
		Username: user,
		Password: pass,
	}
}

// Options contains program options that can be set via command-line flags or environment variables.
type Options struct {
	RootDir      string
	GitURL       string
	GitRef       string
	MappingsDir  string
	ManifestFile string
	CIFile       string
	ConfigFile   string
	CacheSize    int
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: pipeconf <command> [flags]\nAvailable commands: validate, extract, deploy, ci, gen-docs\n")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "validate":
		runValidate(os.Args[2:])
	case "extract":
		runExtract(os.Args[2:])
	case "deploy":
		runDeploy(os.Args[2:])
	case "ci":
		runCI(os.Args[2:])
	case "gen-docs":
		runGenDocs(os.Args[2:])
	case "version":
		fmt.Println(Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q. Available commands: validate, extract, deploy, ci, gen-docs\n", os.Args[1])
		os.Exit(1)
	}
}

// addCommonFlags registers the flags shared by all subcommands.
func addCommonFlags(fs *flag.FlagSet, opts *Options) {
	fs.StringVar(&opts.RootDir, "root-dir", ".", "Root directory of the local configuration store")
	fs.StringVar(&opts.GitURL, "git-url", "", "URL of the git repository to use as the configuration store")
	fs.StringVar(&opts.GitRef, "git-ref", "", "Git ref (branch or tag) to read the configuration from")
	fs.StringVar(&opts.MappingsDir, "mappings-dir", "mappings", "Path to the directory containing key-mapping YAML files (relative to git root or local -root-dir)")
	fs.StringVar(&opts.ManifestFile, "manifest", "pipelines.yaml", "Path to the pipeline manifest (relative to git root or local -root-dir)")
	fs.StringVar(&opts.CIFile, "ci-config", "", "Path to the CI configuration file (optional)")
	fs.StringVar(&opts.ConfigFile, "config", "", "Path to the configuration bundle YAML (optional)")
	fs.IntVar(&opts.CacheSize, "cache-size", 16, "Max. number of validated repositories to hold in the in-memory LRU cache")
}

func parseFlags(fs *flag.FlagSet, args []string) {
	err := ff.Parse(fs, args, ff.WithEnvVarPrefix("PIPECONF"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		os.Exit(1)
	}
}

func createSource(opts Options) store.Source {
	if opts.GitURL != "" {
		auth := gitClientAuthFromEnv()
		log.Printf("Retrieving configuration from git URL %s", opts.GitURL)
		client, err := gitclient.New(opts.GitURL, auth)
		if err != nil {
			log.Fatalf("Failed to retrieve git repo: %v", err)
		}
		ref := opts.GitRef
		if ref == "" {
			ref, err = client.DefaultBranch()
			if err != nil {
				log.Fatalf("No git-ref specified and no default branch found: %v", err)
			}
			log.Printf("Using default git branch %q", ref)
		}
		return store.NewGitSource(client, ref)
	} else if opts.RootDir != "" {
		log.Printf("Using local store at %s", opts.RootDir)
		return store.NewDiskStore(opts.RootDir)
	} else {
		log.Fatalf("Neither -root-dir nor -git-url specified")
		return nil
	}
}

// loadBundle reads the configuration bundle, or returns an empty bundle
// if no config file was specified.
func loadBundle(source store.Source, opts Options) *config.Bundle {
	if opts.ConfigFile == "" {
		b := &config.Bundle{}
		b.Deploy = b.Deploy.WithDefaults()
		b.Docs = b.Docs.WithDefaults()
		return b
	}
	st, err := storeAtDefaultRef(source)
	if err != nil {
		log.Fatalf("Cannot open store: %v", err)
	}
	bundle, err := config.Load(st, opts.ConfigFile)
	if err != nil {
		log.Fatalf("Could not load configuration bundle: %v", err)
	}
	return bundle
}

// defaultRef returns the ref a source serves when none is requested
// explicitly: the git ref the source was created for, or "" for disk.
func defaultRef(source store.Source) string {
	if gs, ok := source.(*store.GitSource); ok {
		return gs.DefaultRef()
	}
	return ""
}

func storeAtDefaultRef(source store.Source) (store.Store, error) {
	return source.Store(defaultRef(source))
}

func newLoader(source store.Source, bundle *config.Bundle, opts Options) *repo.Loader {
	layout := repo.Layout{
		MappingsDir:  opts.MappingsDir,
		ManifestFile: opts.ManifestFile,
		CIFile:       opts.CIFile,
	}
	loader, err := repo.NewLoader(source, repo.Config{Rules: bundle.Rules}, layout, opts.CacheSize)
	if err != nil {
		log.Fatalf("Could not create repository loader: %v", err)
	}
	return loader
}

func loadRepository(opts Options) (*repo.Repository, *config.Bundle, store.Source) {
	source := createSource(opts)
	bundle := loadBundle(source, opts)
	loader := newLoader(source, bundle, opts)

	r, err := loader.Repository(defaultRef(source))
	if err != nil {
		log.Fatalf("Could not load configuration repository: %v", err)
	}
	return r, bundle, source
}

func runValidate(args []string) {
	var opts Options
	fs := flag.NewFlagSet("pipeconf validate", flag.ExitOnError)
	addCommonFlags(fs, &opts)
	parseFlags(fs, args)

	r, _, _ := loadRepository(opts)

	log.Printf("Validated %d artifacts: %d key mappings", r.Size(), len(r.FileTags()))
	if man := r.Manifest(); man != nil {
		log.Printf("Pipeline manifest lists %d pipelines", man.PipelineCount)
	}
	if r.CI() != nil {
		log.Printf("CI configuration is valid")
	}
}

func runExtract(args []string) {
	var opts Options
	var fileTag, inputPath, outputPath string
	fs := flag.NewFlagSet("pipeconf extract", flag.ExitOnError)
	addCommonFlags(fs, &opts)
	fs.StringVar(&fileTag, "file-tag", "", "File tag of the key mapping to apply")
	fs.StringVar(&inputPath, "input", "", "Path to the raw CSV input file")
	fs.StringVar(&outputPath, "output", "", "Output path for the normalized records (default: stdout)")
	parseFlags(fs, args)

	if fileTag == "" || inputPath == "" {
		log.Fatalf("Both -file-tag and -input are required")
	}

	r, _, _ := loadRepository(opts)
	m := r.Mapping(fileTag)
	if m == nil {
		log.Fatalf("No key mapping with file tag %q (available: %v)", fileTag, r.FileTags())
	}

	in, err := os.Open(inputPath)
	if err != nil {
		log.Fatalf("Cannot open input file: %v", err)
	}
	defer in.Close()

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			log.Fatalf("Cannot create output file: %v", err)
		}
		defer f.Close()
		out = f
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	n := 0
	err = extract.New(m).Extract(context.Background(), in, func(rec *extract.Record) error {
		n++
		return enc.Encode(rec)
	})
	if err != nil {
		log.Fatalf("Extraction failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		log.Fatalf("Failed to finish output: %v", err)
	}
	log.Printf("Extracted %d records from %s", n, inputPath)
}

func runGenDocs(args []string) {
	var opts Options
	var outputDir string
	fs := flag.NewFlagSet("pipeconf gen-docs", flag.ExitOnError)
	addCommonFlags(fs, &opts)
	fs.StringVar(&outputDir, "out-dir", "", "Output directory for the documentation (default: the configured docs.outDir)")
	parseFlags(fs, args)

	r, bundle, _ := loadRepository(opts)
	if outputDir == "" {
		outputDir = bundle.Docs.OutDir
	}

	gen := docs.NewGenerator(r)
	if err := gen.Generate(outputDir); err != nil {
		log.Fatalf("Failed to generate documentation: %v", err)
	}
	log.Printf("Documentation generated in %q", outputDir)
}

// runCI executes the CI stages locally through the deployment step runner.
func runCI(args []string) {
	var opts Options
	var branch string
	var dryRun bool
	var timeout time.Duration
	fs := flag.NewFlagSet("pipeconf ci", flag.ExitOnError)
	addCommonFlags(fs, &opts)
	fs.StringVar(&branch, "branch", "", "Branch to run CI for. Skips the run if the branch filter excludes it.")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the CI steps without executing them")
	fs.DurationVar(&timeout, "step-timeout", 15*time.Minute, "Maximum time per CI step")
	parseFlags(fs, args)

	if opts.CIFile == "" {
		log.Fatalf("-ci-config is required for the ci command")
	}

	r, _, _ := loadRepository(opts)
	cfg := r.CI()
	if cfg == nil {
		log.Fatalf("No CI configuration found at %s", opts.CIFile)
	}
	if branch != "" && !cfg.RunsOnBranch(branch) {
		log.Printf("CI does not run on branch %q, nothing to do", branch)
		return
	}

	steps := cfg.Steps()
	runner := deploy.NewRunner(timeout, os.Stdout, dryRun)
	if err := runner.Run(context.Background(), steps); err != nil {
		log.Fatalf("CI run failed: %v", err)
	}
	log.Printf("CI run finished: %d steps", len(steps))
}

func runDeploy(args []string) {
	var opts Options
	var releaseTag, filterExpr string
	var dryRun bool
	var timeout time.Duration
	fs := flag.NewFlagSet("pipeconf deploy", flag.ExitOnError)
	addCommonFlags(fs, &opts)
	fs.StringVar(&releaseTag, "release-tag", "", "Release tag to deploy. Defaults to the latest release tag of the git repository.")
	fs.StringVar(&filterExpr, "filter", "", "CEL expression selecting the pipelines to deploy (e.g. 'pipeline == \"recidivism\"')")
	fs.BoolVar(&dryRun, "dry-run", false, "Print the deployment plan without executing it")
	fs.DurationVar(&timeout, "step-timeout", 0, "Maximum time per deployment step (overrides the configured value)")
	parseFlags(fs, args)

	source := createSource(opts)
	bundle := loadBundle(source, opts)

	if releaseTag == "" {
		gs, ok := source.(*store.GitSource)
		if !ok {
			log.Fatalf("-release-tag is required when deploying from a local store")
		}
		tags, err := gs.ListTags()
		if err != nil {
			log.Fatalf("Cannot list git tags: %v", err)
		}
		releaseTag, err = deploy.LatestReleaseTag(tags)
		if err != nil {
			log.Fatalf("Cannot determine release tag: %v", err)
		}
		log.Printf("Deploying latest release tag %s", releaseTag)
	}

	// Deploy the configuration as recorded at the release tag, not at HEAD.
	ref := ""
	if _, ok := source.(*store.GitSource); ok {
		ref = releaseTag
	}
	loader := newLoader(source, bundle, opts)
	r, err := loader.Repository(ref)
	if err != nil {
		log.Fatalf("Could not load configuration repository at %s: %v", releaseTag, err)
	}
	man := r.Manifest()
	if man == nil {
		log.Fatalf("No pipeline manifest found at %s", opts.ManifestFile)
	}

	var filter *manifest.Filter
	if filterExpr != "" {
		filter, err = manifest.NewFilter(filterExpr)
		if err != nil {
			log.Fatalf("Invalid -filter: %v", err)
		}
	}
	pipelines, err := man.Filter(filter)
	if err != nil {
		log.Fatalf("Pipeline filter failed: %v", err)
	}
	if len(pipelines) == 0 {
		log.Fatalf("No pipelines selected for deployment")
	}
	log.Printf("Selected %d of %d pipelines for deployment", len(pipelines), len(man.Pipelines))

	cfg := bundle.Deploy
	steps, err := deploy.Plan(cfg, releaseTag)
	if err != nil {
		log.Fatalf("Cannot build deployment plan: %v", err)
	}

	stepTimeout := time.Duration(cfg.StepTimeout)
	if timeout > 0 {
		stepTimeout = timeout
	}
	runner := deploy.NewRunner(stepTimeout, os.Stdout, dryRun)
	ctx := context.Background()
	if err := runner.Run(ctx, steps); err != nil {
		log.Fatalf("Deployment failed: %v", err)
	}

	image := cfg.ImageRepo + ":" + releaseTag
	if dryRun {
		for _, p := range pipelines {
			fmt.Printf("DRY-RUN schedule job %s (pipeline %s, image %s)\n", p.JobName, p.Pipeline, image)
		}
		return
	}

	client, err := deploy.NewKubernetesClient(cfg.Kubeconfig)
	if err != nil {
		log.Fatalf("Cannot create Kubernetes client: %v", err)
	}
	cron := deploy.NewCronDeployer(client, cfg.Namespace, cfg.Schedule)
	if err := cron.ApplyAll(ctx, pipelines, image); err != nil {
		log.Fatalf("Failed to deploy scheduled jobs: %v", err)
	}
	log.Printf("Deployed %d scheduled jobs at release %s", len(pipelines), releaseTag)
}

