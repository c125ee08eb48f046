// Package stonebark is the public entry point for embedding the storage
// engine in a Go process: a functional-options constructor returning one
// long-lived Instance, transaction begin/commit/rollback, and the
// cursor-URI surface of SPEC_FULL.md §6.
//
// Keeps the teacher's pkg/ignite entry-point shape (Instance wrapping an
// *engine.Engine plus its resolved Options, NewInstance/Open built from
// options.NewDefaultOptions() plus functional overrides) but replaces its
// stub flat Set/Get/Delete methods with the cursor-based API the layered
// engine actually exposes.
package stonebark

import (
	"context"

	"github.com/stonebark/stonebark/internal/btree"
	"github.com/stonebark/stonebark/internal/engine"
	"github.com/stonebark/stonebark/internal/txn"
	"github.com/stonebark/stonebark/pkg/logger"
	"github.com/stonebark/stonebark/pkg/options"
)

// Instance is one open stonebark storage engine: the primary entry point
// for creating tables, opening cursors against them inside transactions,
// and driving checkpoints.
type Instance struct {
	engine  *engine.Engine
	options *options.Options
}

// Open creates and initializes a new stonebark Instance, applying any
// functional options over options.NewDefaultOptions(). service names the
// logger this instance's subsystems log under.
func Open(ctx context.Context, service string, opts ...options.OptionFunc) (*Instance, error) {
	log := logger.New(service)

	defaultOpts := options.NewDefaultOptions()
	for _, opt := range opts {
		opt(&defaultOpts)
	}
	if err := defaultOpts.Validate(); err != nil {
		return nil, err
	}

	eng, err := engine.New(ctx, &engine.Config{Logger: log, Options: &defaultOpts})
	if err != nil {
		return nil, err
	}

	return &Instance{engine: eng, options: &defaultOpts}, nil
}

// CreateTable registers and opens a new table at uri (spec.md §6's
// metadata-file table list), row-store unless columnStore is set.
func (i *Instance) CreateTable(uri string, columnStore bool) error {
	return i.engine.CreateTable(uri, columnStore)
}

// DropTable removes uri's table from the live registry and metadata.
func (i *Instance) DropTable(uri string) error {
	return i.engine.DropTable(uri)
}

// Begin starts a new transaction with its own read snapshot (spec.md §3).
func (i *Instance) Begin() *txn.Txn {
	return i.engine.Begin()
}

// OpenCursor creates a cursor over uri on behalf of tx (spec.md §6's
// file:/table:/index:/colgroup:/statistics:/join:/backup: URI prefixes;
// see internal/engine.OpenCursor for which are routed and which are
// rejected as excluded surfaces).
func (i *Instance) OpenCursor(uri string, tx *txn.Txn) (*btree.Cursor, error) {
	return i.engine.OpenCursor(uri, tx)
}

// Commit finalizes tx: its writes become visible to new readers and are
// appended to the write-ahead log (spec.md §4.5 "Commit").
func (i *Instance) Commit(tx *txn.Txn, commitTS uint64) error {
	return i.engine.Commit(tx, commitTS)
}

// CommitNow commits tx using an Instance-scoped auto-incrementing commit
// timestamp, for callers that don't otherwise track one.
func (i *Instance) CommitNow(tx *txn.Txn) error {
	return i.engine.Commit(tx, i.engine.NextTimestamp())
}

// Rollback discards tx, reverting any fast truncates it performed.
func (i *Instance) Rollback(tx *txn.Txn) {
	i.engine.Rollback(tx)
}

// Truncate fast-truncates [start, end) in uri's table on behalf of tx
// (spec.md §4.4 "Fast truncate").
func (i *Instance) Truncate(tx *txn.Txn, uri string, start, end []byte) error {
	return i.engine.Truncate(tx, uri, start, end)
}

// Checkpoint runs one checkpoint cycle over every open table (spec.md
// §4.7).
func (i *Instance) Checkpoint(name string) error {
	return i.engine.Checkpoint(name)
}

// Close gracefully shuts down the instance: a final checkpoint, then the
// log, metadata, and every table's block manager.
func (i *Instance) Close() error {
	return i.engine.Close()
}
