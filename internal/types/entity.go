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

package types

import "encoding/json"

// ReservedID is the always-present primary key field name for
// persisted entities.
const ReservedID = "id"

// ReservedRowID is attached by the CDC layer and never persisted back
// to storage.
const ReservedRowID = "_rowid"

// StorageEntity is an ordered mapping from field name to Value. The
// field set is unconstrained except by the Schema of the table it is
// written to.
type StorageEntity struct {
	fields map[string]Value
	order  []string
}

// NewStorageEntity returns an empty entity.
func NewStorageEntity() *StorageEntity {
	return &StorageEntity{fields: make(map[string]Value)}
}

// Set inserts or replaces a field, preserving first-insertion order.
func (e *StorageEntity) Set(name string, v Value) *StorageEntity {
	if _, ok := e.fields[name]; !ok {
		e.order = append(e.order, name)
	}
	e.fields[name] = v
	return e
}

// Get returns a field's value and whether it was present.
func (e *StorageEntity) Get(name string) (Value, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// MustGet returns a field's value, or Null if absent.
func (e *StorageEntity) MustGet(name string) Value {
	return e.fields[name]
}

// ID returns the reserved id field as a string, or "" if absent.
func (e *StorageEntity) ID() string {
	v, _ := e.Get(ReservedID)
	return v.Str()
}

// Delete removes a field.
func (e *StorageEntity) Delete(name string) {
	if _, ok := e.fields[name]; !ok {
		return
	}
	delete(e.fields, name)
	for i, n := range e.order {
		if n == name {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Fields returns the field names in insertion order. Callers must not
// modify the returned slice.
func (e *StorageEntity) Fields() []string { return e.order }

// Clone returns a deep-enough copy (Values are immutable, so a shallow
// field copy suffices) safe for independent mutation.
func (e *StorageEntity) Clone() *StorageEntity {
	out := NewStorageEntity()
	for _, name := range e.order {
		out.Set(name, e.fields[name])
	}
	return out
}

// WithoutRowID returns a copy with the reserved _rowid field stripped,
// matching requirement that ROWID never leaks past the
// CDC boundary.
func (e *StorageEntity) WithoutRowID() *StorageEntity {
	if _, ok := e.Get(ReservedRowID); !ok {
		return e
	}
	out := e.Clone()
	out.Delete(ReservedRowID)
	return out
}

// wireEntity is StorageEntity's JSON shape: order alongside the field
// map, since a plain map[string]Value round trip through encoding/json
// would re-sort keys alphabetically and lose insertion order.
type wireEntity struct {
	Order  []string         `json:"order"`
	Fields map[string]Value `json:"fields"`
}

// MarshalJSON encodes e preserving field order.
func (e *StorageEntity) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEntity{Order: e.order, Fields: e.fields})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *StorageEntity) UnmarshalJSON(data []byte) error {
	var w wireEntity
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.fields = make(map[string]Value, len(w.Fields))
	e.order = nil
	for _, name := range w.Order {
		e.Set(name, w.Fields[name])
	}
	return nil
}

// FieldType enumerates the Schema-declarable field types.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldBoolean
	FieldDateTime
	FieldJSON
	FieldReference
)

// FieldDescriptor describes one column of a Schema.
type FieldDescriptor struct {
	Name       string
	Type       FieldType
	// RefTable names the referenced table when Type == FieldReference.
	RefTable   string
	Required   bool
	Indexed    bool
	PrimaryKey bool
}

// Schema is the ordered field-descriptor list that drives table
// creation and row parsing.
type Schema struct {
	TableName  string
	PrimaryKey string
	Fields     []FieldDescriptor
}

// FieldByName looks up a field descriptor.
func (s *Schema) FieldByName(name string) (FieldDescriptor, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// IndexedFields returns the non-primary fields marked Indexed, in
// schema order.
func (s *Schema) IndexedFields() []FieldDescriptor {
	var out []FieldDescriptor
	for _, f := range s.Fields {
		if f.Indexed && !f.PrimaryKey {
			out = append(out, f)
		}
	}
	return out
}

// Validate enforces the Schema invariants: exactly one primary key
// field, matching s.PrimaryKey.
func (s *Schema) Validate() error {
	count := 0
	for _, f := range s.Fields {
		if f.PrimaryKey {
			count++
			if f.Name != s.PrimaryKey {
				return errorf("schema %s: primary key field %q does not match declared primary key %q", s.TableName, f.Name, s.PrimaryKey)
			}
		}
	}
	if count != 1 {
		return errorf("schema %s: expected exactly one primary key field, found %d", s.TableName, count)
	}
	return nil
}
