// Package schema describes the declarative table definition the engine
// consumes (spec §6 "Schema interface"): a minimal hand-written form of
// what a real code generator would emit, since the generator itself is
// out of scope. Grounded on the Rust original's
// codegen/src/worktable/model.rs column/index descriptors and
// src/table/system_info.rs's generator-state enum.
package schema

import (
	"errors"
	"fmt"

	"github.com/gowt/worktable/page"
)

// Order is the sort direction a query's order_by clause requests.
type Order int

const (
	Asc Order = iota
	Desc
)

// GeneratorKind mirrors page.GeneratorKind at the schema-description
// layer, so a table definition never has to import page directly.
type GeneratorKind = page.GeneratorKind

const (
	GeneratorNone          = page.GeneratorNone
	GeneratorAutoincrement = page.GeneratorAutoincrement
	GeneratorCustom        = page.GeneratorCustom
)

// ColumnDesc describes one column of a table (spec §6: "columns: ordered
// list of (name, type, optional primary_key, optional generator, optional
// optional-flag)").
type ColumnDesc struct {
	Name       string
	TypeName   string
	PrimaryKey bool
	Generator  GeneratorKind
	Optional   bool
}

// IndexDesc describes one secondary index (spec §6: "indexes: list of
// (name, column, unique-flag)").
type IndexDesc struct {
	Name   string
	Column string
	Unique bool
}

// Config is the per-table tuning knob set (spec §6 "config: {page_size?,
// row_derives?}"). RowDerives records which derive-style capabilities the
// generated row type carries (e.g. "Clone", "Debug" in the Rust
// original); it is informational here, since Go has no derive macros,
// and is persisted purely for round-tripping a schema description.
type Config struct {
	PageSize   int
	RowDerives []string
}

// DefaultConfig mirrors the spec's default page size (16 KiB).
func DefaultConfig() Config {
	return Config{PageSize: page.DefaultPageSize}
}

// Validate reports whether c's page size can hold a page header plus at
// least one byte of body.
func (c Config) Validate() error {
	if c.PageSize <= page.HeaderSize {
		return fmt.Errorf("schema: page size %d must exceed header size %d", c.PageSize, page.HeaderSize)
	}
	return nil
}

// TableSchema is the full declarative description of one table.
type TableSchema struct {
	TableName string
	Columns   []ColumnDesc
	Indexes   []IndexDesc
	Config    Config
	// Persist selects whether the table durably writes to space files
	// (spec §6 "persist: bool") or stays purely in-memory.
	Persist bool
}

// PrimaryKeyFields returns the names of every column marked PrimaryKey,
// in declaration order.
func (s TableSchema) PrimaryKeyFields() []string {
	var out []string
	for _, c := range s.Columns {
		if c.PrimaryKey {
			out = append(out, c.Name)
		}
	}
	return out
}

// Validate checks the shape invariants a generated table depends on:
// a name, at least one primary-key column, and a valid page-size config.
func (s TableSchema) Validate() error {
	if s.TableName == "" {
		return errors.New("schema: table name required")
	}
	if len(s.PrimaryKeyFields()) == 0 {
		return errors.New("schema: at least one primary key column required")
	}
	return s.Config.Validate()
}

// ColumnDescriptors converts Columns into the persisted form SpaceInfoPage
// stores (spec §4.7).
func (s TableSchema) ColumnDescriptors() []page.ColumnDescriptor {
	out := make([]page.ColumnDescriptor, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = page.ColumnDescriptor{Name: c.Name, TypeName: c.TypeName}
	}
	return out
}

// IndexDescriptors converts Indexes into the persisted form SpaceInfoPage
// stores.
func (s TableSchema) IndexDescriptors() []page.IndexDescriptor {
	out := make([]page.IndexDescriptor, len(s.Indexes))
	for i, idx := range s.Indexes {
		out[i] = page.IndexDescriptor{Name: idx.Name, Column: idx.Column, Unique: idx.Unique}
	}
	return out
}

// Generator is a table's primary-key generator (spec §6, §4.8
// "get_next_pk"): none, a durable autoincrementing counter, or a
// caller-supplied custom scheme the engine never advances itself. The
// counter is an atomic-free single field guarded by the caller already
// holding that primary key's row lock for the duration of an insert, the
// same assumption link.EventIdGenerator makes for index-change ids.
type Generator struct {
	kind GeneratorKind
	next uint64
}

// NewGenerator creates a fresh generator of the given kind, starting
// before the first value (Next's first call returns 1).
func NewGenerator(kind GeneratorKind) *Generator {
	return &Generator{kind: kind}
}

// LoadGenerator reconstructs a generator from its durable state (spec
// §4.7 reload).
func LoadGenerator(state page.GeneratorState) *Generator {
	return &Generator{kind: state.Kind, next: state.NextValue}
}

// Kind reports the generator's strategy.
func (g *Generator) Kind() GeneratorKind { return g.kind }

// Next advances and returns the next autoincrement value. Callers must
// already hold whatever serialization the table provides around
// primary-key assignment (worktable.Table only calls this from inside a
// row's install-lock critical section).
func (g *Generator) Next() uint64 {
	g.next++
	return g.next
}

// Peek reports the value Next would return, without advancing the
// counter (spec §4.8 "get_next_pk": observable without consuming it for
// an actual row).
func (g *Generator) Peek() uint64 { return g.next + 1 }

// State returns the durable form of g's current counter, for persisting
// alongside a completed insert (spec §4.4 "PKGenState").
func (g *Generator) State() page.GeneratorState {
	return page.GeneratorState{Kind: g.kind, NextValue: g.next}
}
