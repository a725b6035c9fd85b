// Package httpapi is the ambient ops HTTP surface: health checks, a
// Prometheus-text metrics endpoint, and a synchronous single-company
// extraction route. It is not part of the extraction pipeline itself
// (internal/pipeline never imports it) — just a thin front door that
// wires requests into a *runtime.Runtime.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"bizintel/internal/metrics"
	"bizintel/internal/pipeline"
	"bizintel/internal/runtime"
	"bizintel/internal/store"
)

// Server owns the fiber app and its runtime dependencies.
type Server struct {
	app *fiber.App
	rt  *runtime.Runtime
	st  *store.Store // optional; nil disables persistence-backed routes
}

// NewServer builds the fiber app and registers every route. st may be
// nil; when it is, /v1/extract still runs jobs, it just doesn't
// persist them and /v1/records/:id always 404s.
func NewServer(rt *runtime.Runtime, st *store.Store) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{app: app, rt: rt, st: st}

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if rt.Logger != nil {
			rt.Logger.Info("request",
				"method", c.Method(),
				"path", c.Path(),
				"status", c.Response().StatusCode(),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	})

	app.Get("/healthz", s.healthz)
	app.Get("/metrics", s.metrics)

	v1 := app.Group("/v1")
	v1.Post("/extract", s.extractOne)
	v1.Get("/records/:id", s.getRecord)

	return s
}

// Listen starts the HTTP server on host:port.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) healthz(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	dbStatus := "disabled"
	if s.st != nil {
		dbStatus = "ok"
	}

	browserStatus := "disabled"
	if s.rt.Renderer != nil {
		browserStatus = "enabled"
	}

	return c.JSON(fiber.Map{
		"status":  "ok",
		"db":      dbStatus,
		"browser": browserStatus,
	})
}

func (s *Server) metrics(c *fiber.Ctx) error {
	c.Type("text/plain")
	return c.SendString(metrics.Export())
}

type extractRequest struct {
	Name    string `json:"name"`
	Website string `json:"website"`
}

// extractOne runs a single synchronous extraction and returns the
// terminal Record. There is no async job-polling surface here — batch
// supervision (async, many-company) is cmd/bizintel-extract's job.
func (s *Server) extractOne(c *fiber.Ctx) error {
	var req extractRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Name == "" || req.Website == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and website are required"})
	}

	jobID := pipeline.NewJobID()
	rec := s.rt.Pipeline.Run(c.Context(), jobID, pipeline.Input{Name: req.Name, Website: req.Website})
	metrics.RecordJob(string(rec.ScrapeStatus))

	if s.st != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.st.Save(saveCtx, rec); err != nil && s.rt.Logger != nil {
			s.rt.Logger.Warn("persist record failed", "job_id", jobID, "error", err)
		}
	}

	return c.JSON(rec)
}

func (s *Server) getRecord(c *fiber.Ctx) error {
	if s.st == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "persistence not configured"})
	}
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	rec, err := s.st.Get(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fmt.Sprintf("record %s not found", id)})
	}
	return c.JSON(rec)
}
