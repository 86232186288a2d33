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

// mailgated — Mail Retrieval Gateway
//
// Entry point for the mail gateway daemon. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL (account records) and Redis (events, warm locks)
//  3. Builds the shared message cache and the IMAP dialer
//  4. Serves a JSON listing API plus a health endpoint
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/mailgate/internal/account"
	"github.com/bcem/mailgate/internal/cache"
	"github.com/bcem/mailgate/internal/config"
	"github.com/bcem/mailgate/internal/events"
	"github.com/bcem/mailgate/internal/imapstore"
	"github.com/bcem/mailgate/internal/listener"
	"github.com/bcem/mailgate/internal/mail"
	"github.com/bcem/mailgate/internal/service"
	"github.com/bcem/mailgate/internal/warmlock"
)

// imapOpsPerSecond paces outbound IMAP commands across all sessions.
const imapOpsPerSecond = 50

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting mailgate daemon")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"fetch_limit", cfg.FetchLimit,
		"move_chunk_size", cfg.MoveChunkSize,
		"events_queue", cfg.EventsQueue,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

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

	sink := events.NewRedisSink(rdb, cfg.EventsQueue)
	if err := sink.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	guard := warmlock.New(rdb, cfg.WarmGuardTTL)

	// --- Shared pipeline components ---
	deps := service.Deps{
		Settings:  cfg,
		Accounts:  accounts,
		Dialer:    imapstore.NewDialer(imapOpsPerSecond),
		Cache:     cache.New(),
		Listeners: listener.NewRegistry(),
		Events:    sink,
		Guard:     guard,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/messages", listHandler(deps))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := sink.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("mailgate daemon listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailgate daemon stopped")
}

// listHandler serves folder listings. Each request gets its own
// coordinator over the shared cache, accounts and event sink.
func listHandler(deps service.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID, err1 := strconv.Atoi(q.Get("user"))
		contextID, err2 := strconv.Atoi(q.Get("context"))
		folder := q.Get("folder")
		if err1 != nil || err2 != nil || folder == "" {
			http.Error(w, "user, context and folder are required", http.StatusBadRequest)
			return
		}

		d := deps
		d.UserID = userID
		d.ContextID = contextID
		svc := service.New(d)
		defer svc.Close()

		fields := mail.NewFieldSet(
			mail.FieldID, mail.FieldFolderID, mail.FieldFrom, mail.FieldSubject,
			mail.FieldReceivedDate, mail.FieldSize, mail.FieldFlags, mail.FieldColorLabel,
		)
		msgs, err := svc.GetMessages(r.Context(), folder, pageRange(q), mail.SortReceivedDate, mail.OrderDesc, nil, fields, nil)
		if err != nil {
			writeError(w, err)
			return
		}

		warnings := make([]string, 0, len(svc.Warnings()))
		for _, warn := range svc.Warnings() {
			warnings = append(warnings, warn.Error())
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"messages": msgs,
			"warnings": warnings,
		})
	}
}

func pageRange(q map[string][]string) *mail.IndexRange {
	get := func(key string) (int, bool) {
		vs := q[key]
		if len(vs) == 0 {
			return 0, false
		}
		n, err := strconv.Atoi(vs[0])
		return n, err == nil
	}
	start, ok1 := get("start")
	end, ok2 := get("end")
	if !ok1 || !ok2 {
		return nil
	}
	return &mail.IndexRange{Start: start, End: end}
}

func writeError(w http.ResponseWriter, err error) {
	var me *mail.Error
	status := http.StatusInternalServerError
	if errors.As(err, &me) {
		switch me.Kind {
		case mail.KindNotFound:
			status = http.StatusNotFound
		case mail.KindInvalidInput:
			status = http.StatusBadRequest
		case mail.KindAccessDenied:
			status = http.StatusForbidden
		case mail.KindConnectionTransient:
			status = http.StatusBadGateway
		}
	}
	http.Error(w, err.Error(), status)
}
