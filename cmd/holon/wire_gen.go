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

//go:build !wireinject
// +build !wireinject

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/nightscape/holon/internal/cache"
	"github.com/nightscape/holon/internal/engine"
	"github.com/nightscape/holon/internal/oplog"
	"github.com/nightscape/holon/internal/operations"
	"github.com/nightscape/holon/internal/storage"
	"github.com/nightscape/holon/internal/testutil/chaos"
	"github.com/nightscape/holon/internal/types"
	"github.com/nightscape/holon/providers/blocks"
	"github.com/nightscape/holon/providers/pgmirror"
	"github.com/nightscape/holon/providers/tasks"
)

// RemoteItemsSchema is the sample mirrored entity providers/pgmirror
// serves when --postgres-url is set: a minimal external item with no
// outline/task-specific shape of its own, standing in for whatever
// upstream service a real deployment mirrors.
var RemoteItemsSchema = &types.Schema{
	TableName:  "remote_items",
	PrimaryKey: "id",
	Fields: []types.FieldDescriptor{
		{Name: "id", Type: types.FieldString, PrimaryKey: true, Required: true},
		{Name: "content", Type: types.FieldString},
		{Name: "version", Type: types.FieldInteger, Required: true, Indexed: true},
	},
}

// App is the fully wired backend: the Engine plus the pieces whose
// lifecycle main.go must manage directly.
type App struct {
	Engine *engine.Engine
	Pool   *storage.Pool
	PgPool *pgxpool.Pool // nil unless --postgres-url was set
}

// Start builds the dependency graph, hand-written in the shape of a
// generated wire_gen.go: sequential construction with an accumulated,
// reverse-order cleanup closure that unwinds whatever was built so far
// on any failure.
func Start(ctx context.Context, cfg *Config) (*App, func(), error) {
	pool, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = pool.Close() }
	if cfg.ChannelCapacity > 0 {
		pool.SetChannelCapacity(cfg.ChannelCapacity)
	}

	blocksProvider, err := blocks.New(ctx, pool)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	tasksProvider, err := tasks.New(ctx, pool)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	registry := operations.NewRegistry()
	registry.RegisterProvider(blocksProvider)
	registry.RegisterProvider(tasksProvider)

	dispatcher := operations.NewDispatcher(registry)
	dispatcher.RegisterCrud(blocksProvider)
	dispatcher.RegisterCrud(tasksProvider)

	var pgPool *pgxpool.Pool
	if cfg.PostgresURL != "" {
		pgPool, err = pgmirror.Open(ctx, cfg.PostgresURL)
		if err != nil {
			cleanup()
			return nil, nil, errors.Wrap(err, "connecting to postgres for providers/pgmirror")
		}
		prior := cleanup
		cleanup = func() { pgPool.Close(); prior() }

		var mirror operations.CrudOperations = pgmirror.New(pgPool, RemoteItemsSchema)
		if cfg.ChaosProb > 0 {
			mirror = chaos.WithChaos(mirror, float32(cfg.ChaosProb))
		}
		remoteCache, err := cache.New(ctx, pool, RemoteItemsSchema, mirror, mirror)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		dispatcher.RegisterCrud(remoteCache)
		dispatcher.RegisterSyncable(remoteCache)
	}

	log := oplog.New(cfg.MaxLogSize)
	eng := engine.New(pool, dispatcher, log, cfg.ChannelCapacity)
	prior := cleanup
	cleanup = func() { eng.Close(); prior() }

	return &App{Engine: eng, Pool: pool, PgPool: pgPool}, cleanup, nil
}
