// Package oplog implements the Operation Log (C12): an append-only
// record of executed operations and their inverses, with bounded undo
// and redo stacks.
//
// The bounded-resource discipline (trim on overflow, never leave the
// structure partially consistent) follows the same contract
// Stager.Retire describes for staged mutations
// (internal/types/types.go) — here applied to an in-memory stack
// instead of a SQL table; the operation log itself is not persisted,
// it lives for the process lifetime.
package oplog

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/nightscape/holon/internal/types"
)

// DefaultMaxLogSize is the default max_log_size for a new Log.
const DefaultMaxLogSize = 100

// entry pairs a logged Operation with its UndoAction; it is a valid
// undo target only when that UndoAction is reversible.
type entry struct {
	forward  types.Operation
	inverse  types.UndoAction
}

// Log is the C12 Operation Log.
type Log struct {
	mu      sync.Mutex
	maxSize int
	undo    []entry
	redo    []entry
}

// New constructs a Log with the given max size; DefaultMaxLogSize if
// maxSize <= 0.
func New(maxSize int) *Log {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	return &Log{maxSize: maxSize}
}

// Append pushes an executed operation and its inverse onto the undo
// stack, clearing the redo stack. If inverse is
// Irreversible, the entry is still logged (for audit/history) but is
// skipped during undo traversal.
func (l *Log) Append(forward types.Operation, inverse types.UndoAction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.redo = l.redo[:0]
	l.undo = append(l.undo, entry{forward: forward, inverse: inverse})
	if len(l.undo) > l.maxSize {
		dropped := len(l.undo) - l.maxSize
		l.undo = l.undo[dropped:]
		log.WithField("dropped", dropped).Debug("oplog: trimmed oldest entries past max_log_size")
	}
}

// CanUndo reports whether any reversible entry remains on the undo
// stack.
func (l *Log) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.undo) - 1; i >= 0; i-- {
		if l.undo[i].inverse.IsReversible() {
			return true
		}
	}
	return false
}

// CanRedo reports whether any entry remains on the redo stack.
func (l *Log) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.redo) > 0
}

// Dispatcher is the minimal surface oplog needs from the Operation
// Dispatcher (C6) to actually run an inverse operation; satisfied by
// *operations.Dispatcher.
type Dispatcher interface {
	ExecuteOperation(ctx context.Context, entityName, opName string, params *types.StorageEntity) (types.UndoAction, error)
}

// Undo pops the most recent reversible entry (skipping any
// Irreversible entries encountered along the way — they are not valid
// undo targets ), executes its inverse via the
// dispatcher, and pushes the inverse's own inverse onto the redo
// stack. Returns false if there was nothing reversible to undo.
func (l *Log) Undo(ctx context.Context, d Dispatcher) (bool, error) {
	l.mu.Lock()
	var target *entry
	idx := -1
	for i := len(l.undo) - 1; i >= 0; i-- {
		if l.undo[i].inverse.IsReversible() {
			target = &l.undo[i]
			idx = i
			break
		}
	}
	if target == nil {
		l.mu.Unlock()
		return false, nil
	}
	op := target.inverse.Operation
	l.undo = append(l.undo[:idx], l.undo[idx+1:]...)
	l.mu.Unlock()

	result, err := d.ExecuteOperation(ctx, op.EntityName, op.OpName, op.Params)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	l.redo = append(l.redo, entry{forward: op, inverse: result})
	l.mu.Unlock()
	return true, nil
}

// Redo is the symmetric counterpart of Undo: it pops the most recent
// redo entry, re-executes it, and pushes its inverse back onto the
// undo stack.
func (l *Log) Redo(ctx context.Context, d Dispatcher) (bool, error) {
	l.mu.Lock()
	if len(l.redo) == 0 {
		l.mu.Unlock()
		return false, nil
	}
	target := l.redo[len(l.redo)-1]
	l.redo = l.redo[:len(l.redo)-1]
	l.mu.Unlock()

	op := target.inverse.Operation
	result, err := d.ExecuteOperation(ctx, op.EntityName, op.OpName, op.Params)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	l.undo = append(l.undo, entry{forward: op, inverse: result})
	l.mu.Unlock()
	return true, nil
}
