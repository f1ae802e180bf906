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

// Command holon runs the backend engine behind a local HTTP API: one
// embedded sqlite database, the blocks/tasks providers, an optional
// providers/pgmirror-backed cache, and the query/operation/undo/watch
// surface a front-end talks to.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	cfg := &Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()
	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, cleanup, err := Start(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	defer cleanup()

	if app.PgPool != nil {
		if err := app.Engine.SyncAll(ctx); err != nil {
			log.WithError(err).Warn("initial sync failed")
		}
	}

	log.WithField("addr", cfg.ListenAddr).Info("holon listening")
	srv := NewServer(app.Engine)
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		log.WithError(err).Fatal("server exited with error")
	}
}
