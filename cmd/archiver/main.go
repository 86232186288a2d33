// Copyright (c) 2026 John Earle
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

// mailgate archiver — Folder Archiving Command
//
// Standalone CLI tool that moves old messages of one folder into
// per-year archive subfolders. Intended for scheduled runs against
// large mailboxes.
//
// Usage:
//
//	go run ./cmd/archiver/ --user 7 --context 1 --folder default0/INBOX [--days 90]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/cache"
	"github.com/bcem/mailgate/internal/config"
	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/imapstore"
	"github.com/bcem/mailgate/internal/service"
)

const imapOpsPerSecond = 20

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	userFlag := flag.Int("user", -1, "User identifier (required)")
	contextFlag := flag.Int("context", -1, "Context identifier (required)")
	folderFlag := flag.String("folder", "", "Composite folder identifier, e.g. default0/INBOX (required)")
	daysFlag := flag.Int("days", 90, "Archive messages older than this many days")
	flag.Parse()

	if *userFlag < 0 || *contextFlag < 0 || *folderFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --user, --context and --folder are required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	slog.Info("starting folder archiving",
		"user", *userFlag,
		"context", *contextFlag,
		"folder", *folderFlag,
		"days", *daysFlag,
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	accounts, err := account.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise account store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	sink := events.NewRedisSink(rdb, cfg.EventsQueue)
	if err := sink.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Run Archiving ---
	svc := service.New(service.Deps{
		Settings:  cfg,
		Accounts:  accounts,
		Dialer:    imapstore.NewDialer(imapOpsPerSecond),
		Cache:     cache.New(),
		Events:    sink,
		UserID:    *userFlag,
		ContextID: *contextFlag,
	})
	defer svc.Close()

	moved, err := svc.ArchiveMailFolder(ctx, *folderFlag, *daysFlag)
	if err != nil {
		slog.Error("archiving failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("archiving complete",
		"folder", *folderFlag,
		"messages_moved", moved,
	)
	for _, warn := range svc.Warnings() {
		slog.Warn("archiving warning", "warning", warn)
	}
}
