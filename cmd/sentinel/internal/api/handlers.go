// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the supervisor's read-only HTTP surface: component
// health, the repair audit log, snapshot inventory and Prometheus
// metrics.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/integrity"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
)

// ServiceVersion is the supervisor API version.
const ServiceVersion = "0.1.0"

// Handlers contains the HTTP handlers for the supervisor API.
type Handlers struct {
	store *store.Store
	guard *integrity.Guard
}

// NewHandlers creates handlers over the given store.
func NewHandlers(st *store.Store) *Handlers {
	return &Handlers{store: st}
}

// WithGuard enables the snapshot inventory endpoint.
func (h *Handlers) WithGuard(guard *integrity.Guard) *Handlers {
	h.guard = guard
	return h
}

// HandleHealth reports the daemon's own liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": ServiceVersion,
	})
}

// HandleComponents returns the health records of all known components.
func (h *Handlers) HandleComponents(c *gin.Context) {
	components, err := h.store.ListHealth()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"components": components,
		"count":      len(components),
	})
}

// HandleComponent returns one component's health record.
func (h *Handlers) HandleComponent(c *gin.Context) {
	name := c.Param("name")
	health, err := h.store.GetHealth(name)
	if errors.Is(err, store.ErrComponentUnknown) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown component: " + name})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, health)
}

// HandleAttempts returns a component's repair audit rows, newest first.
// Supports ?limit=N; the default is 50.
func (h *Handlers) HandleAttempts(c *gin.Context) {
	name := c.Param("name")

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit: " + raw})
			return
		}
		limit = parsed
	}

	attempts, err := h.store.ListAttempts(name, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"component": name,
		"attempts":  attempts,
		"count":     len(attempts),
	})
}

// HandleIncident returns a component's open incident, if any.
func (h *Handlers) HandleIncident(c *gin.Context) {
	name := c.Param("name")
	incident, err := h.store.GetIncident(name)
	if errors.Is(err, store.ErrNoIncident) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open incident for " + name})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, incident)
}

// HandleSnapshots lists backup snapshots, newest first.
func (h *Handlers) HandleSnapshots(c *gin.Context) {
	if h.guard == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no protected paths configured"})
		return
	}
	snapshots, err := h.guard.Snapshots()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ids := make([]string, 0, len(snapshots))
	for _, m := range snapshots {
		ids = append(ids, m.ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshots": ids,
		"count":     len(ids),
	})
}
