// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package explorer

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/rollupanchor/anchor/internal/mathutil"
)

// maxListLimit ceilings the caller-supplied `limit` query parameter so a
// single request can't force an unbounded ZRANGEBYSCORE scan.
const maxListLimit = 500

// Routes mounts the read-only event explorer API (SPEC_FULL.md "Explorer
// read API" supplement to spec.md §4.B/§1's "queryable event explorer").
func (x *Index) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/v1/explorer/{appId}/events", x.handleListEvents)
	r.Get("/v1/explorer/{appId}/events/{eventId}", x.handleGetEvent)
	return r
}

func (x *Index) handleListEvents(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appId")
	start := parseInt64(r.URL.Query().Get("start"), 0)
	end := parseInt64(r.URL.Query().Get("end"), 1<<62)
	limit := mathutil.MinInt(int(parseInt64(r.URL.Query().Get("limit"), 100)), maxListLimit)
	reverse := r.URL.Query().Get("order") == "desc"

	var (
		ids []string
		err error
	)
	if reverse {
		ids, err = x.ListEventsReverse(r.Context(), appID, start, end, limit)
	} else {
		ids, err = x.ListEvents(r.Context(), appID, start, end, limit)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	total, err := x.CountEvents(r.Context(), appID, &start, &end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	totalPages := mathutil.CeilDiv(int(total), limit)

	writeJSON(w, map[string]any{"appId": appID, "eventIds": ids, "totalPages": totalPages})
}

func (x *Index) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	payload, err := x.GetEventData(r.Context(), eventID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if payload == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
