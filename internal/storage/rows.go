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

package storage

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/types"
)

// toDriverValue converts a Value to the representation modernc.org/sqlite
// (via database/sql) understands natively.
func toDriverValue(v types.Value) interface{} {
	switch v.Kind() {
	case types.KindNull:
		return nil
	case types.KindBoolean:
		if v.Bool() {
			return int64(1)
		}
		return int64(0)
	case types.KindInteger:
		return v.Int()
	case types.KindFloat:
		return v.Float()
	case types.KindString, types.KindReference, types.KindJSON:
		return v.Str()
	case types.KindDateTime:
		return v.Time().Format(time.RFC3339Nano)
	case types.KindArray, types.KindObject:
		return v.AsString()
	default:
		return nil
	}
}

// fieldValue converts a raw scanned column back into a Value, guided
// by the schema's declared type for that field when known, falling
// back to type-sniffing for ad-hoc execute_sql results.
func fieldValue(raw interface{}, declared types.FieldType, hasDeclared bool) types.Value {
	if raw == nil {
		return types.Null
	}
	if hasDeclared {
		switch declared {
		case types.FieldInteger:
			return types.NewInteger(toInt64(raw))
		case types.FieldBoolean:
			return types.NewBoolean(toInt64(raw) != 0)
		case types.FieldDateTime:
			if t, err := time.Parse(time.RFC3339Nano, toString(raw)); err == nil {
				return types.NewDateTime(t)
			}
			return types.NewString(toString(raw))
		case types.FieldJSON:
			return types.NewJSON(toString(raw))
		case types.FieldReference:
			return types.NewReference(toString(raw))
		default:
			return types.NewString(toString(raw))
		}
	}
	switch rv := raw.(type) {
	case int64:
		return types.NewInteger(rv)
	case float64:
		return types.NewFloat(rv)
	case string:
		return types.NewString(rv)
	case []byte:
		return types.NewString(string(rv))
	case bool:
		return types.NewBoolean(rv)
	default:
		return types.NewString(toString(raw))
	}
}

func toInt64(raw interface{}) int64 {
	switch rv := raw.(type) {
	case int64:
		return rv
	case float64:
		return int64(rv)
	case []byte:
		var n int64
		for _, b := range rv {
			n = n*10 + int64(b-'0')
		}
		return n
	default:
		return 0
	}
}

func toString(raw interface{}) string {
	switch rv := raw.(type) {
	case string:
		return rv
	case []byte:
		return string(rv)
	default:
		return ""
	}
}

// scanRows converts *sql.Rows into a slice of StorageEntity keyed by
// result column name, as required by execute_sql. schema
// may be nil, in which case values are type-sniffed.
func scanRows(rows *sql.Rows, schema *types.Schema) ([]*types.StorageEntity, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "reading result columns")
	}

	var out []*types.StorageEntity
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}

		e := types.NewStorageEntity()
		for i, col := range cols {
			var ft types.FieldType
			var has bool
			if schema != nil {
				if fd, ok := schema.FieldByName(col); ok {
					ft, has = fd.Type, true
				}
			}
			e.Set(col, fieldValue(raw[i], ft, has))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
