// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package blocks is an example entity provider implementing the
// outline/block capability table of scenarios S2/S3/S5:
// indent, outdent, move_block (with cycle prevention), move_up,
// move_down, and split_block, on top of a plain internal/storage
// table (blocks are primary data, not a mirror of an upstream source,
// so this provider has no cache.Cache layer — it talks to
// *storage.Pool directly, the same shape as a TargetPool-backed
// applier).
package blocks

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/nightscape/holon/internal/fractional"
	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/types"
)

// EntityName is the table/entity name this provider serves.
const EntityName = "blocks"

// Schema describes the blocks table: a self-referencing outline with
// a fractional sort key.
var Schema = &types.Schema{
	TableName:  EntityName,
	PrimaryKey: "id",
	Fields: []types.FieldDescriptor{
		{Name: "id", Type: types.FieldString, PrimaryKey: true, Required: true},
		{Name: "parent_id", Type: types.FieldReference, RefTable: EntityName, Indexed: true},
		{Name: "sort_key", Type: types.FieldString, Required: true, Indexed: true},
		{Name: "depth", Type: types.FieldInteger, Required: true},
		{Name: "content", Type: types.FieldString},
	},
}

// Provider is the blocks entity's DataSource/CrudOperations/
// OperationProvider implementation.
type Provider struct {
	pool *storage.Pool
}

// New materializes the blocks table and returns a ready Provider.
func New(ctx context.Context, pool *storage.Pool) (*Provider, error) {
	if err := pool.CreateEntity(ctx, Schema); err != nil {
		return nil, err
	}
	return &Provider{pool: pool}, nil
}

// EntityName satisfies operations.DataSource.
func (p *Provider) EntityName() string { return EntityName }

// Schema satisfies operations.DataSource.
func (p *Provider) Schema() *types.Schema { return Schema }

// Get satisfies operations.DataSource.
func (p *Provider) Get(ctx context.Context, id string) (*types.StorageEntity, bool, error) {
	return p.pool.Get(ctx, EntityName, id)
}

// Query satisfies operations.DataSource.
func (p *Provider) Query(ctx context.Context, filter types.Filter) ([]*types.StorageEntity, error) {
	return p.pool.Query(ctx, EntityName, filter)
}

// Insert satisfies operations.CrudOperations.
func (p *Provider) Insert(ctx context.Context, entity *types.StorageEntity) error {
	return p.pool.Insert(ctx, EntityName, entity)
}

// Update satisfies operations.CrudOperations.
func (p *Provider) Update(ctx context.Context, id string, fields *types.StorageEntity) error {
	return p.pool.Update(ctx, EntityName, id, fields)
}

// Delete satisfies operations.CrudOperations.
func (p *Provider) Delete(ctx context.Context, id string) error {
	return p.pool.Delete(ctx, EntityName, id)
}

func (p *Provider) children(ctx context.Context, parentID string) ([]*types.StorageEntity, error) {
	var filter types.Filter
	if parentID == "" {
		filter = types.IsNull("parent_id")
	} else {
		filter = types.Eq("parent_id", types.NewReference(parentID))
	}
	rows, err := p.pool.Query(ctx, EntityName, filter)
	if err != nil {
		return nil, err
	}
	sortRows(rows)
	return rows, nil
}

func sortRows(rows []*types.StorageEntity) {
	for i := 1; i < len(rows); i++ {
		j := i
		for j > 0 && rows[j-1].MustGet("sort_key").Str() > rows[j].MustGet("sort_key").Str() {
			rows[j-1], rows[j] = rows[j], rows[j-1]
			j--
		}
	}
}

// keyAfter returns a sort key placed immediately after afterID among
// parentID's children (or first, if afterID is empty), 's
// GenBetween scheme. When the generated key would exceed
// fractional.MaxSortKeyLength, it rebalances and persists every sibling
// under parentID first and re-derives the key against the now-short
// neighbors — move_block/indent/outdent/split_block all call keyAfter,
// so the rebalance-on-overflow path fires inline from all four rather
// than needing a standalone rebalance operation, matching how the
// original outliner calls it right after gen_between returns an
// over-long key.
func (p *Provider) keyAfter(ctx context.Context, parentID, afterID string) (string, error) {
	siblings, err := p.children(ctx, parentID)
	if err != nil {
		return "", err
	}

	newKey, err := genKeyAfter(siblings, afterID)
	if err != nil {
		return "", err
	}
	if !fractional.NeedsRebalance(newKey) {
		return newKey, nil
	}

	siblings, err = p.rebalanceSiblings(ctx, siblings)
	if err != nil {
		return "", err
	}
	return genKeyAfter(siblings, afterID)
}

// genKeyAfter computes the GenBetween result for inserting after
// afterID within an already parent-sorted sibling list, with no I/O.
func genKeyAfter(siblings []*types.StorageEntity, afterID string) (string, error) {
	if afterID == "" {
		var next *string
		if len(siblings) > 0 {
			k := siblings[0].MustGet("sort_key").Str()
			next = &k
		}
		return fractional.GenBetween(nil, next)
	}
	for i, s := range siblings {
		if s.ID() != afterID {
			continue
		}
		prevKey := s.MustGet("sort_key").Str()
		var next *string
		if i+1 < len(siblings) {
			k := siblings[i+1].MustGet("sort_key").Str()
			next = &k
		}
		return fractional.GenBetween(&prevKey, next)
	}
	return "", types.NewBlockNotFound(afterID)
}

// rebalanceSiblings rewrites every sibling's sort_key to the evenly
// spaced keys fractional.Rebalance produces, persists the rewrite, and
// updates the in-memory rows to match so the caller's subsequent
// genKeyAfter call sees the rebalanced keys without a re-query.
func (p *Provider) rebalanceSiblings(ctx context.Context, siblings []*types.StorageEntity) ([]*types.StorageEntity, error) {
	keys := make([]string, len(siblings))
	for i, s := range siblings {
		keys[i] = s.MustGet("sort_key").Str()
	}
	rebalanced := fractional.Rebalance(keys)
	for i, s := range siblings {
		if rebalanced[i] == keys[i] {
			continue
		}
		if err := p.pool.Update(ctx, EntityName, s.ID(), types.NewStorageEntity().Set("sort_key", types.NewString(rebalanced[i]))); err != nil {
			return nil, err
		}
		s.Set("sort_key", types.NewString(rebalanced[i]))
	}
	return siblings, nil
}

// isDescendant reports whether candidate is id or a descendant of id,
// walking parent_id pointers up from candidate to prevent a
// move_block from creating a cycle.
func (p *Provider) isDescendant(ctx context.Context, id, candidate string) (bool, error) {
	cur := candidate
	for cur != "" {
		if cur == id {
			return true, nil
		}
		row, found, err := p.pool.Get(ctx, EntityName, cur)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		cur = row.MustGet("parent_id").Str()
	}
	return false, nil
}

// moveBlock reparents id under newParent, positioning it after
// afterID (or first among newParent's children if afterID is empty).
// It returns the row's state before the move, for building an inverse.
func (p *Provider) moveBlock(ctx context.Context, id, newParent, afterID string) (*types.StorageEntity, error) {
	if newParent != "" {
		cyclic, err := p.isDescendant(ctx, id, newParent)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, types.NewCyclicMove(id, newParent)
		}
	}

	before, found, err := p.pool.Get(ctx, EntityName, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, types.NewBlockNotFound(id)
	}

	newKey, err := p.keyAfter(ctx, newParent, afterID)
	if err != nil {
		return nil, err
	}
	depth := int64(0)
	if newParent != "" {
		parentRow, found, err := p.pool.Get(ctx, EntityName, newParent)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, types.NewBlockNotFound(newParent)
		}
		depth = parentRow.MustGet("depth").Int() + 1
	}

	update := types.NewStorageEntity().
		Set("parent_id", parentValue(newParent)).
		Set("sort_key", types.NewString(newKey)).
		Set("depth", types.NewInteger(depth))
	if err := p.pool.Update(ctx, EntityName, id, update); err != nil {
		return nil, err
	}
	return before, nil
}

func parentValue(id string) types.Value {
	if id == "" {
		return types.Null
	}
	return types.NewReference(id)
}

// previousSibling returns the id of the sibling immediately before id
// within its parent, or "" if id is the first child.
func (p *Provider) previousSibling(ctx context.Context, id, parentID string) (string, error) {
	siblings, err := p.children(ctx, parentID)
	if err != nil {
		return "", err
	}
	for i, s := range siblings {
		if s.ID() == id && i > 0 {
			return siblings[i-1].ID(), nil
		}
	}
	return "", nil
}

// Operations satisfies operations.OperationProvider: indent, outdent,
// move_block, move_up, move_down, and split_block, plus the shared
// set_field operation.
func (p *Provider) Operations() []types.OperationEntry {
	return []types.OperationEntry{
		operations.SetFieldEntry(EntityName, p),
		p.indentEntry(),
		p.outdentEntry(),
		p.moveBlockEntry(),
		p.moveUpEntry(),
		p.moveDownEntry(),
		p.splitBlockEntry(),
	}
}

func (p *Provider) indentEntry() types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        "indent",
			DisplayName: "Indent",
			Description: "Makes the block a child of the sibling named by parent_id.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
				{Name: "parent_id", TypeHint: "reference"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			id := params.ID()
			newParent := params.MustGet("parent_id").Str()

			before, err := p.moveBlock(ctx, id, newParent, "")
			if err != nil {
				return types.Irreversible, err
			}
			inverse := types.NewStorageEntity().Set(types.ReservedID, types.NewString(id)).
				Set("parent_id", before.MustGet("parent_id")).
				Set("after_id", types.NewString(""))
			return types.Undo(types.Operation{EntityName: EntityName, OpName: "move_block", Params: inverse}), nil
		},
	}
}

func (p *Provider) outdentEntry() types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        "outdent",
			DisplayName: "Outdent",
			Description: "Moves the block up to be a sibling of its former parent, placed immediately after it.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			id := params.ID()
			row, found, err := p.pool.Get(ctx, EntityName, id)
			if err != nil {
				return types.Irreversible, err
			}
			if !found {
				return types.Irreversible, types.NewBlockNotFound(id)
			}
			oldParent := row.MustGet("parent_id").Str()
			if oldParent == "" {
				return types.Irreversible, types.NewInvalidOperation("outdent: block has no parent to outdent from")
			}
			parentRow, found, err := p.pool.Get(ctx, EntityName, oldParent)
			if err != nil {
				return types.Irreversible, err
			}
			if !found {
				return types.Irreversible, types.NewBlockNotFound(oldParent)
			}
			grandparent := parentRow.MustGet("parent_id").Str()

			before, err := p.moveBlock(ctx, id, grandparent, oldParent)
			if err != nil {
				return types.Irreversible, err
			}
			oldAfter, err := p.previousSibling(ctx, id, oldParent)
			if err != nil {
				return types.Irreversible, err
			}
			inverse := types.NewStorageEntity().Set(types.ReservedID, types.NewString(id)).
				Set("parent_id", before.MustGet("parent_id")).
				Set("after_id", types.NewString(oldAfter))
			return types.Undo(types.Operation{EntityName: EntityName, OpName: "move_block", Params: inverse}), nil
		},
	}
}

func (p *Provider) moveBlockEntry() types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        "move_block",
			DisplayName: "Move block",
			Description: "Reparents a block under parent_id, positioned after after_id; rejects cycles.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
				{Name: "parent_id", TypeHint: "reference"},
				{Name: "after_id", TypeHint: "reference"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			id := params.ID()
			newParent := params.MustGet("parent_id").Str()
			afterID := params.MustGet("after_id").Str()

			oldParentRow, found, err := p.pool.Get(ctx, EntityName, id)
			if err != nil {
				return types.Irreversible, err
			}
			if !found {
				return types.Irreversible, types.NewBlockNotFound(id)
			}
			oldParent := oldParentRow.MustGet("parent_id").Str()
			oldAfter, err := p.previousSibling(ctx, id, oldParent)
			if err != nil {
				return types.Irreversible, err
			}

			if _, err := p.moveBlock(ctx, id, newParent, afterID); err != nil {
				return types.Irreversible, err
			}

			inverse := types.NewStorageEntity().Set(types.ReservedID, types.NewString(id)).
				Set("parent_id", parentValue(oldParent)).
				Set("after_id", types.NewString(oldAfter))
			return types.Undo(types.Operation{EntityName: EntityName, OpName: "move_block", Params: inverse}), nil
		},
	}
}

// moveUpEntry and moveDownEntry swap a block with its previous/next
// sibling's sort_key. Both are Irreversible: the inverse of a swap is
// itself, but open-question decision keeps them Irreversible
// rather than self-inverse to match the original source's behavior.
func (p *Provider) moveUpEntry() types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        "move_up",
			DisplayName: "Move up",
			Description: "Swaps the block's position with its previous sibling.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			return p.swapWithSibling(ctx, params.ID(), -1)
		},
	}
}

func (p *Provider) moveDownEntry() types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        "move_down",
			DisplayName: "Move down",
			Description: "Swaps the block's position with its next sibling.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			return p.swapWithSibling(ctx, params.ID(), 1)
		},
	}
}

func (p *Provider) swapWithSibling(ctx context.Context, id string, dir int) (types.UndoAction, error) {
	row, found, err := p.pool.Get(ctx, EntityName, id)
	if err != nil {
		return types.Irreversible, err
	}
	if !found {
		return types.Irreversible, types.NewBlockNotFound(id)
	}
	parentID := row.MustGet("parent_id").Str()
	siblings, err := p.children(ctx, parentID)
	if err != nil {
		return types.Irreversible, err
	}
	idx := -1
	for i, s := range siblings {
		if s.ID() == id {
			idx = i
			break
		}
	}
	other := idx + dir
	if idx < 0 || other < 0 || other >= len(siblings) {
		return types.Irreversible, types.NewInvalidOperation("no sibling in that direction")
	}
	aKey := siblings[idx].MustGet("sort_key")
	bKey := siblings[other].MustGet("sort_key")
	if err := p.pool.Update(ctx, EntityName, siblings[idx].ID(), types.NewStorageEntity().Set("sort_key", bKey)); err != nil {
		return types.Irreversible, err
	}
	if err := p.pool.Update(ctx, EntityName, siblings[other].ID(), types.NewStorageEntity().Set("sort_key", aKey)); err != nil {
		return types.Irreversible, err
	}
	return types.Irreversible, nil
}

func (p *Provider) splitBlockEntry() types.OperationEntry {
	return types.OperationEntry{
		Descriptor: types.OperationDescriptor{
			EntityName:  EntityName,
			Name:        "split_block",
			DisplayName: "Split block",
			Description: "Splits the block's content at position into two sibling blocks.",
			RequiredParams: []types.ParamHint{
				{Name: "id", TypeHint: "reference"},
				{Name: "position", TypeHint: "integer"},
			},
		},
		Fn: func(ctx context.Context, params *types.StorageEntity) (types.UndoAction, error) {
			id := params.ID()
			pos := int(params.MustGet("position").Int())

			row, found, err := p.pool.Get(ctx, EntityName, id)
			if err != nil {
				return types.Irreversible, err
			}
			if !found {
				return types.Irreversible, types.NewBlockNotFound(id)
			}
			content := row.MustGet("content").Str()
			if pos < 0 || pos > len(content) {
				return types.Irreversible, types.NewInvalidOperation("split_block: position out of range")
			}
			head := strings.TrimRight(content[:pos], " ")
			tail := strings.TrimLeft(content[pos:], " ")

			parentID := row.MustGet("parent_id").Str()
			newKey, err := p.keyAfter(ctx, parentID, id)
			if err != nil {
				return types.Irreversible, err
			}

			if err := p.pool.Update(ctx, EntityName, id, types.NewStorageEntity().Set("content", types.NewString(head))); err != nil {
				return types.Irreversible, err
			}

			newRow := types.NewStorageEntity().
				Set(types.ReservedID, types.NewString(uuid.NewString())).
				Set("parent_id", parentValue(parentID)).
				Set("sort_key", types.NewString(newKey)).
				Set("depth", row.MustGet("depth")).
				Set("content", types.NewString(tail))
			if err := p.pool.Insert(ctx, EntityName, newRow); err != nil {
				return types.Irreversible, err
			}
			return types.Irreversible, nil
		},
	}
}

var _ operations.DataSource = (*Provider)(nil)
var _ operations.CrudOperations = (*Provider)(nil)
var _ operations.OperationProvider = (*Provider)(nil)
