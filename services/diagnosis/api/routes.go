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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/isurus/services/diagnosis/telemetry"
)

// RegisterRoutes registers the /isurus endpoints on rg.
//
// Endpoints:
//
//	POST /v1/isurus/diagnose - Run a diagnosis and store it as the latest
//	GET  /v1/isurus/plans - Latest report and its plans
//	POST /v1/isurus/plans/:id/suggestion - Generate a fix for one plan
//	GET  /v1/isurus/health - Health check
//
// Example:
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	isurus := rg.Group("/isurus")
	{
		isurus.POST("/diagnose", handlers.HandleDiagnose)
		isurus.GET("/plans", handlers.HandlePlans)
		isurus.POST("/plans/:id/suggestion", handlers.HandleSuggestion)
		isurus.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the full router: tracing middleware, /metrics and the
// /v1 routes.
func NewRouter(serviceName string, handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))

	RegisterRoutes(router.Group("/v1"), handlers)
	return router
}
