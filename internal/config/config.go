// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads the environment-driven configuration for every
// service named in spec.md §6, with the documented defaults.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// overlay holds operator-supplied values loaded from a YAML file (env
// ANCHOR_CONFIG_FILE), consulted before environment variables and process
// defaults — matching the teacher's config-file-overlay convention.
var overlay map[string]string

func init() {
	path := os.Getenv("ANCHOR_CONFIG_FILE")
	if path == "" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(raw, &overlay)
}

// Region namespaces queues and indices (spec.md §6, default "us").
func Region() string {
	return getEnv("REGION", "us")
}

// PoolConfig configures the Anchor Worker Pool (spec.md §4.D, §6).
type PoolConfig struct {
	Concurrency      int
	MaxRetries       int
	BackoffBase      time.Duration
	HeartbeatInterval time.Duration
	StaleThreshold   time.Duration
}

func LoadPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:       getEnvInt("ANCHOR_POOL_CONCURRENCY", 64),
		MaxRetries:        getEnvInt("ANCHOR_POOL_MAX_RETRIES", 5),
		BackoffBase:       getEnvDuration("ANCHOR_POOL_BACKOFF_BASE", 800*time.Millisecond),
		HeartbeatInterval: getEnvDuration("ANCHOR_POOL_HEARTBEAT_INTERVAL", 15*time.Second),
		StaleThreshold:    getEnvDuration("ANCHOR_POOL_STALE_THRESHOLD", 120*time.Second),
	}
}

// SequencerConfig configures the Sequencer (spec.md §4.F, §6).
type SequencerConfig struct {
	BatchInterval        time.Duration
	MaxBatchSize         int
	AnchorRegistryAddress string
}

func LoadSequencerConfig() SequencerConfig {
	return SequencerConfig{
		BatchInterval:         getEnvDuration("SEQUENCER_BATCH_INTERVAL", 30*time.Second),
		MaxBatchSize:          getEnvInt("SEQUENCER_MAX_BATCH_SIZE", 1000),
		AnchorRegistryAddress: getEnv("SEQUENCER_ANCHOR_REGISTRY_ADDRESS", ""),
	}
}

// DAConfig configures the Data Availability Adapter (spec.md §4.G, §6).
type DAConfig struct {
	EnableBlobStorage bool
	MaxCalldataSize   uint64
	TargetAddress     string
}

func LoadDAConfig() DAConfig {
	var size datasize.ByteSize
	_ = size.UnmarshalText([]byte(getEnv("DA_MAX_CALLDATA_SIZE", "128KB")))
	if size == 0 {
		size = 128 * datasize.KB
	}
	return DAConfig{
		EnableBlobStorage: getEnvBool("DA_ENABLE_BLOB_STORAGE", false),
		MaxCalldataSize:   size.Bytes(),
		TargetAddress:     getEnv("DA_TARGET_ADDRESS", ""),
	}
}

// CheckpointConfig configures the Checkpoint Service (spec.md §4.H, §6).
type CheckpointConfig struct {
	CheckpointInterval time.Duration
}

func LoadCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		CheckpointInterval: getEnvDuration("CHECKPOINT_INTERVAL", time.Hour),
	}
}

// BridgeConfig configures the Bridge Relay (spec.md §4.I, §6).
type BridgeConfig struct {
	ConfirmationBlocks int
	PollInterval       time.Duration
}

func LoadBridgeConfig() BridgeConfig {
	return BridgeConfig{
		ConfirmationBlocks: getEnvInt("BRIDGE_CONFIRMATION_BLOCKS", 12),
		PollInterval:       getEnvDuration("BRIDGE_POLL_INTERVAL", 15*time.Second),
	}
}

// ReconcilerConfig configures the Reconciler (spec.md §4.E).
type ReconcilerConfig struct {
	Cadence time.Duration
}

func LoadReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Cadence: getEnvDuration("RECONCILER_CADENCE", 60*time.Second),
	}
}

// InfraConfig holds the connection strings and filesystem paths for the
// application root's leaf dependencies (spec.md §9 "explicit construction").
type InfraConfig struct {
	DatabaseURL          string
	RedisAddr            string
	ChainRPCEndpoint     string
	ChainRPCTimeout      time.Duration
	BoltPath             string
	SecretManagerPassphrase string
	SecretManagerSalt    string
	HTTPAddr             string
}

func LoadInfraConfig() InfraConfig {
	return InfraConfig{
		DatabaseURL:             getEnv("DATABASE_URL", "postgres://localhost:5432/anchor"),
		RedisAddr:               getEnv("REDIS_ADDR", "localhost:6379"),
		ChainRPCEndpoint:        getEnv("CHAIN_RPC_ENDPOINT", "http://localhost:8545"),
		ChainRPCTimeout:         getEnvDuration("CHAIN_RPC_TIMEOUT", 30*time.Second),
		BoltPath:                getEnv("ANCHOR_BOLT_PATH", "./data/anchor.db"),
		SecretManagerPassphrase: getEnv("SECRET_MANAGER_PASSPHRASE", ""),
		SecretManagerSalt:       getEnv("SECRET_MANAGER_SALT", "anchor-default-salt"),
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
	}
}

func getEnv(key, def string) string {
	if v, ok := overlay[key]; ok && v != "" {
		return v
	}
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if n, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return n
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return b
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return d
	}
	return def
}
