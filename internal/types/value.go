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

// Package types contains the data types shared across every layer of
// holon: the tagged Value union, StorageEntity rows, Schema
// descriptors, Change/Batch streaming types, and the boundary error
// type. Keeping them in one package (mirroring cdc-sink's
// internal/types) makes it possible to compose storage, streaming and
// query code without import cycles.
package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Kind discriminates the variant held by a Value.
type Kind int

// The Value variants. Their numeric order is not used for comparison
// (cross-variant Compare falls back to AsString) nor for any on-wire
// representation (which uses Kind.String()).
const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindDateTime
	KindJSON
	KindReference
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindBoolean:
		return "Boolean"
	case KindInteger:
		return "Integer"
	case KindFloat:
		return "Float"
	case KindString:
		return "String"
	case KindDateTime:
		return "DateTime"
	case KindJSON:
		return "Json"
	case KindReference:
		return "Reference"
	case KindArray:
		return "Array"
	case KindObject:
		return "Object"
	default:
		return "Unknown"
	}
}

// Value is the tagged variant used throughout holon for field values,
// operation parameters, and render literals. Only one of the typed
// accessors is meaningful for a given Kind; the zero Value is Null.
type Value struct {
	kind Kind

	b    bool
	i    int64
	f    float64
	s    string // String, Reference, and the raw form of Json
	t    time.Time
	arr  []Value
	obj  *Object
}

// Object is an ordered mapping from string key to Value, matching
// "ordered mapping" requirement for the Object variant.
type Object struct {
	keys   []string
	values map[string]Value
}

// NewObject returns an empty, ordered Object.
func NewObject() *Object {
	return &Object{values: make(map[string]Value)}
}

// Set inserts or replaces the value at key, preserving first-insertion
// order for new keys.
func (o *Object) Set(key string, v Value) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value at key and whether it was present.
func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns the insertion-ordered key list. Callers must not modify
// the returned slice.
func (o *Object) Keys() []string { return o.keys }

// Len returns the number of fields.
func (o *Object) Len() int { return len(o.keys) }

// Null is the Null value.
var Null = Value{kind: KindNull}

// NewBoolean constructs a Boolean value.
func NewBoolean(b bool) Value { return Value{kind: KindBoolean, b: b} }

// NewInteger constructs an Integer value.
func NewInteger(i int64) Value { return Value{kind: KindInteger, i: i} }

// NewFloat constructs a Float value.
func NewFloat(f float64) Value { return Value{kind: KindFloat, f: f} }

// NewString constructs a String value.
func NewString(s string) Value { return Value{kind: KindString, s: s} }

// NewDateTime constructs a DateTime value, truncated to millisecond
// precision and converted to UTC as required
func NewDateTime(t time.Time) Value {
	return Value{kind: KindDateTime, t: t.UTC().Truncate(time.Millisecond)}
}

// NewJSON constructs a Json value from a raw, already-encoded JSON
// string. Unlike Object/Array, the contents are opaque to holon.
func NewJSON(raw string) Value { return Value{kind: KindJSON, s: raw} }

// NewReference constructs a Reference value holding an opaque ID.
func NewReference(id string) Value { return Value{kind: KindReference, s: id} }

// NewArray constructs an Array value.
func NewArray(items []Value) Value { return Value{kind: KindArray, arr: items} }

// NewObjectValue wraps an *Object as a Value.
func NewObjectValue(o *Object) Value { return Value{kind: KindObject, obj: o} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the Null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the Boolean payload; false if v is not a Boolean.
func (v Value) Bool() bool { return v.b }

// Int returns the Integer payload; zero if v is not an Integer.
func (v Value) Int() int64 { return v.i }

// Float returns the Float payload; zero if v is not a Float.
func (v Value) Float() float64 { return v.f }

// Str returns the String/Reference/Json payload; empty if v holds
// neither.
func (v Value) Str() string { return v.s }

// Time returns the DateTime payload.
func (v Value) Time() time.Time { return v.t }

// Items returns the Array payload.
func (v Value) Items() []Value { return v.arr }

// ObjectValue returns the Object payload, or nil if v is not an Object.
func (v Value) ObjectValue() *Object { return v.obj }

// AsString renders any Value variant to its string form. It is used
// only as the cross-variant sort fallback, and as a debug/logging aid;
// it is not a serialization format.
func (v Value) AsString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindReference, KindJSON:
		return v.s
	case KindDateTime:
		return v.t.Format(time.RFC3339Nano)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.AsString()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		if v.obj == nil {
			return "{}"
		}
		parts := make([]string, 0, v.obj.Len())
		for _, k := range v.obj.Keys() {
			val, _ := v.obj.Get(k)
			parts = append(parts, k+":"+val.AsString())
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return ""
	}
}

// Compare implements the total order required: values of
// the same Kind compare natively, cross-variant comparisons fall back
// to byte-wise comparison of AsString(). Returns -1, 0, or 1.
func (v Value) Compare(other Value) int {
	if v.kind != other.kind {
		return strings.Compare(v.AsString(), other.AsString())
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBoolean:
		if v.b == other.b {
			return 0
		}
		if !v.b {
			return -1
		}
		return 1
	case KindInteger:
		switch {
		case v.i < other.i:
			return -1
		case v.i > other.i:
			return 1
		default:
			return 0
		}
	case KindFloat:
		switch {
		case v.f < other.f:
			return -1
		case v.f > other.f:
			return 1
		default:
			return 0
		}
	case KindString, KindReference, KindJSON:
		return strings.Compare(v.s, other.s)
	case KindDateTime:
		switch {
		case v.t.Before(other.t):
			return -1
		case v.t.After(other.t):
			return 1
		default:
			return 0
		}
	case KindArray:
		n := len(v.arr)
		if len(other.arr) < n {
			n = len(other.arr)
		}
		for i := 0; i < n; i++ {
			if c := v.arr[i].Compare(other.arr[i]); c != 0 {
				return c
			}
		}
		return len(v.arr) - len(other.arr)
	case KindObject:
		return strings.Compare(v.AsString(), other.AsString())
	default:
		return 0
	}
}

// Equal reports whether two values compare equal under Compare.
func (v Value) Equal(other Value) bool { return v.Compare(other) == 0 }

// SortValues sorts a slice of Values in place using Compare, stable so
// that callers relying on pre-existing order for ties (e.g. secondary
// key comparisons) are not surprised.
func SortValues(values []Value) {
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].Compare(values[j]) < 0
	})
}

// ErrTypeMismatch is returned by conversion helpers when a Value's Kind
// does not match what the caller required.
var ErrTypeMismatch = errors.New("value type mismatch")

// RequireString returns the String/Reference payload or
// ErrTypeMismatch.
func (v Value) RequireString() (string, error) {
	switch v.kind {
	case KindString, KindReference, KindJSON:
		return v.s, nil
	default:
		return "", errors.Wrapf(ErrTypeMismatch, "expected string-like, got %s", v.kind)
	}
}

// RequireInt returns the Integer payload or ErrTypeMismatch.
func (v Value) RequireInt() (int64, error) {
	if v.kind != KindInteger {
		return 0, errors.Wrapf(ErrTypeMismatch, "expected Integer, got %s", v.kind)
	}
	return v.i, nil
}

// GoString implements fmt.GoStringer for readable test failure output.
func (v Value) GoString() string {
	return fmt.Sprintf("Value{%s:%s}", v.kind, v.AsString())
}

// wireValue is the on-the-wire shape for Value's JSON encoding: the
// Kind tag plus whichever payload field applies, so a front-end can
// recover DateTime/Reference/Json distinctly instead of Go's encoding/
// json collapsing everything through AsString's lossy string fallback.
type wireValue struct {
	Kind  string          `json:"kind"`
	Bool  *bool           `json:"bool,omitempty"`
	Int   *int64          `json:"int,omitempty"`
	Float *float64        `json:"float,omitempty"`
	Str   *string         `json:"str,omitempty"`
	Time  *time.Time      `json:"time,omitempty"`
	Items []Value         `json:"items,omitempty"`
	Obj   *orderedObject  `json:"obj,omitempty"`
}

// orderedObject preserves Object's insertion order across JSON, since a
// plain map[string]Value round trip through encoding/json would
// re-sort keys alphabetically.
type orderedObject struct {
	Keys   []string         `json:"keys"`
	Values map[string]Value `json:"values"`
}

// MarshalJSON encodes v as a tagged {"kind":...,...} object: render
// literals and the HTTP API both rely on this to round-trip every
// Kind, not just the ones JSON's native types can infer.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	switch v.kind {
	case KindNull:
	case KindBoolean:
		w.Bool = &v.b
	case KindInteger:
		w.Int = &v.i
	case KindFloat:
		w.Float = &v.f
	case KindString, KindReference, KindJSON:
		w.Str = &v.s
	case KindDateTime:
		w.Time = &v.t
	case KindArray:
		w.Items = v.arr
	case KindObject:
		if v.obj != nil {
			w.Obj = &orderedObject{Keys: v.obj.Keys(), Values: v.obj.values}
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case "Null", "":
		*v = Null
	case "Boolean":
		*v = NewBoolean(w.Bool != nil && *w.Bool)
	case "Integer":
		var i int64
		if w.Int != nil {
			i = *w.Int
		}
		*v = NewInteger(i)
	case "Float":
		var f float64
		if w.Float != nil {
			f = *w.Float
		}
		*v = NewFloat(f)
	case "String":
		*v = NewString(strOrEmpty(w.Str))
	case "Reference":
		*v = NewReference(strOrEmpty(w.Str))
	case "Json":
		*v = NewJSON(strOrEmpty(w.Str))
	case "DateTime":
		if w.Time != nil {
			*v = NewDateTime(*w.Time)
		} else {
			*v = NewDateTime(time.Time{})
		}
	case "Array":
		*v = NewArray(w.Items)
	case "Object":
		o := NewObject()
		if w.Obj != nil {
			for _, k := range w.Obj.Keys {
				o.Set(k, w.Obj.Values[k])
			}
		}
		*v = NewObjectValue(o)
	default:
		return errors.Errorf("value: unknown wire kind %q", w.Kind)
	}
	return nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
