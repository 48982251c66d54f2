// Copyright 2024 Ingest Harness Project
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

// Package main provides the run-history dashboard for the fixture harness.
// It exposes recorded scenario runs and pass/fail statistics over HTTP so CI
// and developers can inspect fixture health without shell access.
package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/your-org/ingest-harness/internal/config"
	"github.com/your-org/ingest-harness/internal/health"
	"github.com/your-org/ingest-harness/internal/history"
	"github.com/your-org/ingest-harness/internal/scenario"
)

const (
	// DefaultPort is the default port for the dashboard
	DefaultPort = "8080"
	// DefaultRunLimit caps list responses
	DefaultRunLimit = 50
)

// Server wires the run-history store and scenario registry into HTTP handlers.
type Server struct {
	config        *config.Config
	logger        *zap.Logger
	store         *history.Store
	registry      *scenario.Registry
	healthManager *health.Manager
}

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	store, err := history.NewStore(cfg.History.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open run history", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	registry, err := scenario.Load("./configs/scenarios.yaml")
	if err != nil {
		logger.Fatal("Failed to load scenarios", zap.Error(err))
	}

	healthManager := health.NewManager("webui", "1.0.0", logger)
	healthManager.AddChecker("history_db", health.DatabaseHealthChecker("sqlite", store.Ping))
	healthManager.AddChecker("ingest_cli", health.CommandHealthChecker(cfg.Ingest.Command))

	server := &Server{
		config:        cfg,
		logger:        logger,
		store:         store,
		registry:      registry,
		healthManager: healthManager,
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", server.handleHealth)
	router.GET("/api/runs", server.handleListRuns)
	router.GET("/api/runs/:scenario", server.handleScenarioRuns)
	router.GET("/api/scenarios", server.handleListScenarios)
	router.GET("/api/stats", server.handleStats)

	port := os.Getenv("PORT")
	if port == "" {
		port = DefaultPort
	}

	logger.Info("Starting harness dashboard",
		zap.String("port", port),
		zap.String("service", "webui"),
	)

	if err := router.Run(":" + port); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

// handleHealth returns the health status
func (s *Server) handleHealth(c *gin.Context) {
	s.healthManager.HTTPHandler().ServeHTTP(c.Writer, c.Request)
}

// handleListRuns returns the most recent runs across all scenarios
func (s *Server) handleListRuns(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		s.logger.Error("Failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load runs"})
		return
	}

	c.JSON(http.StatusOK, runs)
}

// handleScenarioRuns returns the run history of one scenario
func (s *Server) handleScenarioRuns(c *gin.Context) {
	name := c.Param("scenario")
	limit := parseLimit(c.Query("limit"))

	runs, err := s.store.RunsForScenario(name, limit)
	if err != nil {
		s.logger.Error("Failed to list scenario runs", zap.String("scenario", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load runs"})
		return
	}

	if len(runs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No runs recorded for scenario"})
		return
	}

	c.JSON(http.StatusOK, runs)
}

// handleListScenarios returns the registered scenarios with their last run
func (s *Server) handleListScenarios(c *gin.Context) {
	type scenarioStatus struct {
		Name    string       `json:"name"`
		LastRun *history.Run `json:"last_run,omitempty"`
	}

	names := s.registry.Names()
	statuses := make([]scenarioStatus, 0, len(names))
	for _, name := range names {
		last, err := s.store.LastRun(name)
		if err != nil {
			s.logger.Warn("Failed to load last run", zap.String("scenario", name), zap.Error(err))
		}
		statuses = append(statuses, scenarioStatus{Name: name, LastRun: last})
	}

	c.JSON(http.StatusOK, statuses)
}

// handleStats returns aggregate pass/fail counts
func (s *Server) handleStats(c *gin.Context) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("Failed to load stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// parseLimit parses a limit query parameter, falling back to the default
func parseLimit(raw string) int {
	if raw == "" {
		return DefaultRunLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return DefaultRunLimit
	}
	return limit
}
