// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all supervisor routes with the router group.
//
// Endpoints:
//
//	GET /v1/supervisor/health - Daemon liveness
//	GET /v1/supervisor/components - All component health records
//	GET /v1/supervisor/components/:name - One component's health
//	GET /v1/supervisor/components/:name/attempts - Repair audit log
//	GET /v1/supervisor/components/:name/incident - Open incident, if any
//	GET /v1/supervisor/snapshots - Backup snapshot inventory
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	supervisor := rg.Group("/supervisor")
	{
		supervisor.GET("/health", handlers.HandleHealth)
		supervisor.GET("/components", handlers.HandleComponents)
		supervisor.GET("/components/:name", handlers.HandleComponent)
		supervisor.GET("/components/:name/attempts", handlers.HandleAttempts)
		supervisor.GET("/components/:name/incident", handlers.HandleIncident)
		supervisor.GET("/snapshots", handlers.HandleSnapshots)
	}
}

// RegisterMetrics exposes the Prometheus scrape endpoint at the router
// root, outside the versioned API group.
func RegisterMetrics(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
