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

// Package storage implements the Storage Backend (C4): an embedded SQL
// store abstraction providing schema materialization, CRUD, a safe
// filter-to-SQL compiler, parameterized execute_sql, and a
// change-data-capture stream.
//
// Opening the database is adapted from
// docxology-GuildNet/internal/localdb/db.go (sql.Open("sqlite", dsn) +
// WAL pragma); the pool-construction shape (an Open function returning
// a typed pool, closed with Pool.Close, matching an *types.TargetPool-style
// wrapper) follows internal/util/stdpool.
package storage

import (
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/nightscape/holon/internal/ident"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/internal/util/stopper"

	_ "modernc.org/sqlite"
)

// Pool wraps the embedded sqlite handle plus the book-keeping needed
// for the shadow-log CDC emulation.
type Pool struct {
	db   *sql.DB
	path string

	hubOnce    sync.Once
	cdcHub     *cdcHub
	pollerOnce sync.Once
	pollerStop *stopper.Context

	schemaMu sync.Mutex
	schemas  map[string]*types.Schema

	channelCapacity int // 0 means "use stream.DefaultCapacity"
}

// SetChannelCapacity overrides the per-subscriber buffering every CDC
// topic this pool creates from here on uses (stream.NewTopic still
// enforces stream.DefaultCapacity as a floor). Must be called before
// the first RowChanges/Feed subscription creates the hub; later calls
// have no effect on topics already created.
func (p *Pool) SetChannelCapacity(n int) { p.channelCapacity = n }

// Open creates (if needed) and opens the sqlite database file at path.
// An in-memory database is used when path is "" or ":memory:", handy
// for tests.
func Open(path string) (*Pool, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	// A single physical connection avoids SQLITE_BUSY storms from the
	// CDC poller racing writers; WAL mode still allows concurrent
	// readers in a multi-connection setup if a caller widens this.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		log.WithError(err).Warn("could not enable WAL journal mode")
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF;"); err != nil {
		log.WithError(err).Warn("could not disable foreign key enforcement")
	}
	p := &Pool{db: db, path: dsn}
	if err := p.ensureChangeLog(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// Close stops the CDC poller, if running, and releases the underlying
// connection.
func (p *Pool) Close() error {
	p.StopPoller()
	return p.db.Close()
}

// DB exposes the raw *sql.DB for callers (providers, tests) that need
// direct access beyond the Backend's own methods.
func (p *Pool) DB() *sql.DB { return p.db }

// quoteIdent renders name as a double-quoted SQL identifier, doubling
// any embedded quote rather than backslash-escaping it (sqlite, like
// standard SQL, has no backslash-escape inside a quoted identifier).
func quoteIdent(name string) string {
	return ident.New(name).Quoted()
}
