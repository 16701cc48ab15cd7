// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command anchor is the operator CLI (spec.md §6 "Operator CLI (stable
// subset)"): start, batch --force, checkpoint, and status.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/app"
	"github.com/rollupanchor/anchor/internal/config"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "anchor: build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cliApp := &cli.App{
		Name:  "anchor",
		Usage: "operate a rollup-anchor backbone node",
		Commands: []*cli.Command{
			startCommand(log),
			batchCommand(log),
			checkpointCommand(log),
			statusCommand(log),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Error("anchor: command failed", zap.Error(err))
		os.Exit(1)
	}
}

func buildApp(ctx context.Context, log *zap.Logger) (*app.App, error) {
	return app.New(ctx, config.LoadInfraConfig(), log)
}

func startCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "run the full service set until interrupted",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sequencer", Usage: "run only the Sequencer loop"},
			&cli.BoolFlag{Name: "checkpoint", Usage: "run only the Checkpoint Service loop"},
			&cli.BoolFlag{Name: "all", Usage: "run every service (default)", Value: true},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, log)
			if err != nil {
				return err
			}

			switch {
			case c.Bool("sequencer"):
				go a.Sequencer.Run(ctx)
			case c.Bool("checkpoint"):
				a.Checkpoint.Start(ctx)
			default:
				a.Start(ctx)
			}

			infra := config.LoadInfraConfig()
			srv := &http.Server{Addr: infra.HTTPAddr, Handler: a.Routes()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("anchor: http server failed", zap.Error(err))
				}
			}()

			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
			log.Info("anchor: shutting down")
			a.Shutdown(context.Background())
			return nil
		},
	}
}

func batchCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "force an out-of-band Sequencer batch",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "force immediate batch creation", Required: true},
		},
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context, log)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			batch, err := a.Sequencer.Force(c.Context)
			if err != nil {
				return fmt.Errorf("anchor: force batch: %w", err)
			}
			if batch == nil {
				fmt.Println("no events")
				return nil
			}
			return printJSON(map[string]any{
				"id":         batch.ID,
				"eventCount": batch.EventCount,
				"merkleRoot": "0x" + hex.EncodeToString(batch.MerkleRoot[:]),
			})
		},
	}
}

func checkpointCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "checkpoint",
		Usage: "force an out-of-band checkpoint submission",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "l2-root", Required: true, Usage: "hex-encoded 32-byte L2 state root"},
			&cli.StringFlag{Name: "dao-root", Required: true, Usage: "hex-encoded 32-byte DAO state root"},
		},
		Action: func(c *cli.Context) error {
			l2Root, err := decodeRoot(c.String("l2-root"))
			if err != nil {
				return fmt.Errorf("anchor: --l2-root: %w", err)
			}
			daoRoot, err := decodeRoot(c.String("dao-root"))
			if err != nil {
				return fmt.Errorf("anchor: --dao-root: %w", err)
			}

			a, err := buildApp(c.Context, log)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			result, err := a.Checkpoint.Force(c.Context, l2Root, daoRoot)
			if err != nil {
				return fmt.Errorf("anchor: force checkpoint: %w", err)
			}
			return printJSON(map[string]any{"txHash": result.TxHash})
		},
	}
}

func statusCommand(log *zap.Logger) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "report local store status",
		Action: func(c *cli.Context) error {
			a, err := buildApp(c.Context, log)
			if err != nil {
				return err
			}
			defer a.Shutdown(context.Background())

			st := a.Status()
			return printJSON(map[string]any{
				"dbPath":          st.DBPath,
				"isOpen":          st.IsOpen,
				"approximateSize": st.ApproximateSize,
			})
		},
	}
}

func decodeRoot(s string) ([32]byte, error) {
	var root [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return root, err
	}
	if len(raw) != 32 {
		return root, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(root[:], raw)
	return root, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
