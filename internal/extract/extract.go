// Package extract applies a key mapping to raw CSV rows, producing
// normalized entity records. This is the column-remapping step that runs
// before the entity graph is populated; what happens to the records
// afterwards is not this package's concern.
package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/openjustice/pipeconf/internal/fieldmap"
)

// Entity is a flat bag of normalized fields of a single entity type.
type Entity struct {
	Type   string
	Fields map[string]string
}

// Record is the result of remapping a single raw row.
type Record struct {
	// Entities built from key_mappings, one per destination entity type.
	Entities []*Entity
	// Child entities built from child_key_mappings. A child whose mapped
	// columns are all empty in the source row is not materialized.
	Children []*Entity
	// Ancestor fields built from ancestor_keys.
	Ancestors []*Entity
}

// Extractor remaps raw CSV rows according to a single key mapping.
type Extractor struct {
	mapping *fieldmap.Mapping
}

func New(m *fieldmap.Mapping) *Extractor {
	return &Extractor{mapping: m}
}

// checkHeader verifies that every column of the input is either mapped
// or deliberately ignored. An unknown column means the mapping file is
// out of date with the source system and processing must not continue.
func (e *Extractor) checkHeader(header []string) error {
	seen := map[string]bool{}
	for _, col := range header {
		if col == "" {
			return fmt.Errorf("file %s: empty column name in header", e.mapping.FileTag)
		}
		if seen[col] {
			return fmt.Errorf("file %s: duplicate column %q in header", e.mapping.FileTag, col)
		}
		seen[col] = true
		if _, ok := e.mapping.Lookup(col); ok {
			continue
		}
		if e.mapping.Ignored(col) {
			continue
		}
		return fmt.Errorf("file %s: column %q is neither mapped nor ignored", e.mapping.FileTag, col)
	}
	return nil
}

// group collects values by destination entity type.
type group struct {
	order    []string
	byEntity map[string]*Entity
}

func newGroup() *group {
	return &group{byEntity: map[string]*Entity{}}
}

func (g *group) set(ref *fieldmap.FieldRef, value string) {
	ent, ok := g.byEntity[ref.Entity]
	if !ok {
		ent = &Entity{Type: ref.Entity, Fields: map[string]string{}}
		g.byEntity[ref.Entity] = ent
		g.order = append(g.order, ref.Entity)
	}
	ent.Fields[ref.Field] = value
}

func (g *group) entities(skipEmpty bool) []*Entity {
	var result []*Entity
	for _, typ := range g.order {
		ent := g.byEntity[typ]
		if skipEmpty && allEmpty(ent.Fields) {
			continue
		}
		result = append(result, ent)
	}
	slices.SortFunc(result, func(a, b *Entity) int {
		if a.Type < b.Type {
			return -1
		} else if a.Type > b.Type {
			return 1
		}
		return 0
	})
	return result
}

func allEmpty(fields map[string]string) bool {
	for _, v := range fields {
		if v != "" {
			return false
		}
	}
	return true
}

func (e *Extractor) extractRow(header, row []string) (*Record, error) {
	if len(row) != len(header) {
		return nil, fmt.Errorf("file %s: row has %d columns, header has %d",
			e.mapping.FileTag, len(row), len(header))
	}

	primary := newGroup()
	children := newGroup()
	ancestors := newGroup()

	for i, col := range header {
		target, ok := e.mapping.Lookup(col)
		if !ok {
			continue // ignored column, already verified by checkHeader
		}
		switch target.Class {
		case fieldmap.ClassPrimary:
			primary.set(target.Ref, row[i])
		case fieldmap.ClassChild:
			children.set(target.Ref, row[i])
		case fieldmap.ClassAncestor:
			ancestors.set(target.Ref, row[i])
		}
	}

	return &Record{
		Entities:  primary.entities(false),
		Children:  children.entities(true),
		Ancestors: ancestors.entities(false),
	}, nil
}

// Extract streams records from CSV input, calling fn for each remapped row.
// The first CSV row must be the header. Processing stops at the first error,
// including a non-nil error returned by fn or a cancelled context.
func (e *Extractor) Extract(ctx context.Context, r io.Reader, fn func(*Record) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // row length is checked against the header

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("file %s: input is empty", e.mapping.FileTag)
	}
	if err != nil {
		return fmt.Errorf("file %s: failed to read header: %w", e.mapping.FileTag, err)
	}
	if err := e.checkHeader(header); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("file %s: failed to read row: %w", e.mapping.FileTag, err)
		}
		rec, err := e.extractRow(header, row)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// ExtractAll reads all rows into memory. Prefer Extract for large inputs.
func (e *Extractor) ExtractAll(ctx context.Context, r io.Reader) ([]*Record, error) {
	var records []*Record
	err := e.Extract(ctx, r, func(rec *Record) error {
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
