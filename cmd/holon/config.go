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

package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/nightscape/holon/internal/oplog"
)

// Config is the user-visible configuration for the holon binary,
// following internal/source/server/config.go's Bind/Preflight split.
type Config struct {
	DBPath          string
	ListenAddr      string
	PostgresURL     string
	MaxLogSize      int
	ChannelCapacity int
	ChaosProb       float64
}

// Bind registers flags, defaulting the Postgres connection string from
// the environment.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.DBPath, "db-path", "holon.db",
		"path to the embedded sqlite database file (':memory:' for an ephemeral store)")
	flags.StringVar(&c.ListenAddr, "listen-addr", ":26257",
		"the network address the backend engine's HTTP API binds to")
	flags.StringVar(&c.PostgresURL, "postgres-url", os.Getenv("HOLON_POSTGRES_URL"),
		"optional Postgres connection string; when set, providers/pgmirror is mounted behind a cache")
	flags.IntVar(&c.MaxLogSize, "max-log-size", oplog.DefaultMaxLogSize,
		"maximum number of entries retained on the undo/redo stacks")
	flags.IntVar(&c.ChannelCapacity, "channel-capacity", 0,
		"override the default change-stream channel capacity (0 keeps the library default)")
	flags.Float64Var(&c.ChaosProb, "chaos-prob", 0,
		"inject synthetic upstream failures into providers/pgmirror with this independent per-call probability (0 disables)")
}

// Preflight validates the configuration once flags are parsed.
func (c *Config) Preflight() error {
	if c.DBPath == "" {
		return errors.New("db-path unset")
	}
	if c.ListenAddr == "" {
		return errors.New("listen-addr unset")
	}
	if c.MaxLogSize <= 0 {
		return errors.New("max-log-size must be positive")
	}
	if c.ChannelCapacity < 0 {
		return errors.New("channel-capacity must not be negative")
	}
	if c.ChaosProb < 0 || c.ChaosProb > 1 {
		return errors.New("chaos-prob must be between 0 and 1")
	}
	return nil
}
