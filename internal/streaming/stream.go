// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package streaming exposes the event bus's batch-lifecycle notifications
// over a WebSocket, so an Explorer client can watch anchoring progress live
// instead of polling the read API (SPEC_FULL.md Explorer read API
// supplement).
package streaming

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

// frame is the wire shape pushed to subscribers: the topic name plus its
// JSON-encoded payload.
type frame struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Handler upgrades the connection and relays every payload published on
// topics to the client until a read from the client fails (the connection
// closed) or a write to it fails.
func Handler(bus *events.Bus, log *zap.Logger, topics ...events.Topic) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("streaming: websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		chans := make([]<-chan any, len(topics))
		for i, t := range topics {
			chans[i] = bus.Subscribe(t)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		relay(conn, log, topics, chans, done)
	}
}

func relay(conn *websocket.Conn, log *zap.Logger, topics []events.Topic, chans []<-chan any, done <-chan struct{}) {
	for {
		for i, ch := range chans {
			select {
			case payload := <-ch:
				if err := writeFrame(conn, topics[i], payload); err != nil {
					log.Warn("streaming: write failed, closing connection", zap.Error(err))
					return
				}
			case <-done:
				return
			default:
			}
		}
		select {
		case <-done:
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func writeFrame(conn *websocket.Conn, topic events.Topic, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(frame{Topic: string(topic), Payload: raw})
}
