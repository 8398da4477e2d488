// Package docs generates human-readable documentation for the
// configuration repository: one page per key-mapping file, plus a page
// for the pipeline manifest.
package docs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"text/template"

	"github.com/openjustice/pipeconf/internal/fieldmap"
	"github.com/openjustice/pipeconf/internal/repo"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders the generated pages. The GFM extension is required for tables.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Config holds the documentation options (the "docs" section of the
// configuration bundle).
type Config struct {
	// The directory the generated pages are written to.
	OutDir string `yaml:"outDir"`
}

const DefaultOutDir = "docs"

// WithDefaults returns a copy of c with unset optional fields populated.
func (c Config) WithDefaults() Config {
	if c.OutDir == "" {
		c.OutDir = DefaultOutDir
	}
	return c
}

// Generator builds the documentation structure.
type Generator struct {
	repo *repo.Repository
}

func NewGenerator(r *repo.Repository) *Generator {
	return &Generator{repo: r}
}

var indexTemplate = template.Must(template.New("index").Parse(`# Configuration repository

## Key mappings

{{range .FileTags}}- [{{.}}]({{.}}.html)
{{end}}
{{if .HasManifest}}## Pipelines

- [Pipeline manifest](pipelines.html)
{{end}}`))

var mappingTemplate = template.Must(template.New("mapping").Parse(`# {{.FileTag}}

## Key mappings

| Source column | Destination |
| --- | --- |
{{range .Primary}}| {{.Column}} | {{.Dest}} |
{{end}}
{{if .Children}}## Child key mappings

| Source column | Destination |
| --- | --- |
{{range .Children}}| {{.Column}} | {{.Dest}} |
{{end}}
{{end}}{{if .Ancestors}}## Ancestor keys

| Source column | Destination |
| --- | --- |
{{range .Ancestors}}| {{.Column}} | {{.Dest}} |
{{end}}
{{end}}{{if .Ignored}}## Ignored columns

| Column | Rationale |
| --- | --- |
{{range .Ignored}}| {{.Name}} | {{.Rationale}} |
{{end}}
{{end}}`))

var manifestTemplate = template.Must(template.New("manifest").Parse(`# Pipeline manifest

{{.Count}} pipelines.

| Pipeline | Job name | Input | Reference input | Output |
| --- | --- | --- | --- | --- |
{{range .Pipelines}}| {{.Pipeline}} | {{.JobName}} | {{.Input}} | {{.ReferenceInput}} | {{.Output}} |
{{end}}`))

type mappingRow struct {
	Column string
	Dest   string
}

type ignoredRow struct {
	Name      string
	Rationale string
}

type pipelineRow struct {
	Pipeline       string
	JobName        string
	Input          string
	ReferenceInput string
	Output         string
}

// tableRows converts a mapping table into sorted documentation rows.
func tableRows(refs map[string]*fieldmap.FieldRef) []mappingRow {
	rows := make([]mappingRow, 0, len(refs))
	for col, ref := range refs {
		rows = append(rows, mappingRow{Column: col, Dest: ref.String()})
	}
	slices.SortFunc(rows, func(a, b mappingRow) int {
		if a.Column < b.Column {
			return -1
		} else if a.Column > b.Column {
			return 1
		}
		return 0
	})
	return rows
}

// Generate builds the documentation in the output directory.
// Each page is written both as markdown and as rendered HTML.
func (g *Generator) Generate(outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory: %v", err)
	}

	indexData := struct {
		FileTags    []string
		HasManifest bool
	}{
		FileTags:    g.repo.FileTags(),
		HasManifest: g.repo.Manifest() != nil,
	}
	if err := g.writePage(outputDir, "index", indexTemplate, indexData); err != nil {
		return err
	}

	for _, tag := range g.repo.FileTags() {
		m := g.repo.Mapping(tag)
		data := struct {
			FileTag   string
			Primary   []mappingRow
			Children  []mappingRow
			Ancestors []mappingRow
			Ignored   []ignoredRow
		}{
			FileTag:   m.FileTag,
			Primary:   tableRows(m.KeyMappings),
			Children:  tableRows(m.ChildKeyMappings),
			Ancestors: tableRows(m.AncestorKeys),
		}
		for _, ik := range m.IgnoredKeys() {
			rationale := ik.Rationale
			if rationale == "" {
				rationale = "(none recorded)"
			}
			data.Ignored = append(data.Ignored, ignoredRow{Name: ik.Name, Rationale: rationale})
		}
		if err := g.writePage(outputDir, tag, mappingTemplate, data); err != nil {
			return err
		}
	}

	if man := g.repo.Manifest(); man != nil {
		data := struct {
			Count     int
			Pipelines []*pipelineRow
		}{Count: man.PipelineCount}
		for _, p := range man.Pipelines {
			refInput := p.ReferenceInput
			if refInput == "" {
				refInput = "-"
			}
			data.Pipelines = append(data.Pipelines, &pipelineRow{
				Pipeline:       p.Pipeline,
				JobName:        p.JobName,
				Input:          p.Input,
				ReferenceInput: refInput,
				Output:         p.Output,
			})
		}
		if err := g.writePage(outputDir, "pipelines", manifestTemplate, data); err != nil {
			return err
		}
	}

	return nil
}

// writePage renders tmpl with data and writes <name>.md and <name>.html.
func (g *Generator) writePage(outputDir, name string, tmpl *template.Template, data any) error {
	var page bytes.Buffer
	if err := tmpl.Execute(&page, data); err != nil {
		return fmt.Errorf("failed to render %s: %v", name, err)
	}
	mdPath := filepath.Join(outputDir, name+".md")
	if err := os.WriteFile(mdPath, page.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", mdPath, err)
	}

	var html bytes.Buffer
	html.WriteString("<!DOCTYPE html>\n<html><body>\n")
	if err := md.Convert(page.Bytes(), &html); err != nil {
		return fmt.Errorf("failed to convert %s to HTML: %v", name, err)
	}
	html.WriteString("</body></html>\n")
	htmlPath := filepath.Join(outputDir, name+".html")
	if err := os.WriteFile(htmlPath, html.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %v", htmlPath, err)
	}
	return nil
}
