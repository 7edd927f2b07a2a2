// Package server exposes the scoring pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/victoria-analytics/traitmeter/internal/cache"
	"github.com/victoria-analytics/traitmeter/internal/cluster"
	"github.com/victoria-analytics/traitmeter/internal/config"
	"github.com/victoria-analytics/traitmeter/internal/database"
	"github.com/victoria-analytics/traitmeter/internal/errors"
	"github.com/victoria-analytics/traitmeter/internal/ingest"
	"github.com/victoria-analytics/traitmeter/internal/monitoring"
	"github.com/victoria-analytics/traitmeter/internal/pipeline"
	"github.com/victoria-analytics/traitmeter/internal/rasch"
	"github.com/victoria-analytics/traitmeter/internal/ratelimit"
	"github.com/victoria-analytics/traitmeter/internal/security"
	"github.com/victoria-analytics/traitmeter/internal/traits"
	"github.com/victoria-analytics/traitmeter/internal/types"
)

// maxUploadBytes bounds survey uploads; a full batch CSV is well under this.
const maxUploadBytes = 32 << 20

// batchTimeout bounds one pipeline run, narrative generation included.
const batchTimeout = 120 * time.Second

// readCacheTTL bounds how long stored-run reads are served from memory.
// Stored runs are immutable, so the TTL only bounds memory, not staleness.
const readCacheTTL = 5 * time.Minute

// Server wires the pipeline, store, and middleware into a gin router.
type Server struct {
	pipe    *pipeline.Pipeline
	store   *database.Store
	limiter *ratelimit.Limiter
	reads   *cache.Cache
	metrics *monitoring.Metrics
	cfg     config.Config
	logger  *slog.Logger
}

// New builds a server around an assembled pipeline and result store.
func New(pipe *pipeline.Pipeline, store *database.Store, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pipe:  pipe,
		store: store,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		}),
		reads:   cache.New(readCacheTTL),
		metrics: monitoring.NewMetrics(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Router assembles the middleware chain and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsConfig))

	r.Use(security.Headers(s.cfg.EnableHSTS))
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	// Monitoring wraps the error middleware so it observes the status the
	// client actually receives; recovery wraps ErrorHandler so a panic while
	// rendering an error response still produces a 500.
	r.Use(monitoring.Middleware(s.metrics, s.logger))
	r.Use(errors.RecoveryHandler())
	r.Use(errors.ErrorHandler())
	r.Use(ratelimit.Middleware(s.limiter))

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/v1")
	{
		v1.POST("/batches", s.handleCreateBatch)
		v1.GET("/batches", s.handleListBatches)
		v1.GET("/batches/:id", s.handleGetBatch)
		v1.GET("/batches/:id/profiles", s.handleGetProfiles)
		v1.GET("/batches/:id/profiles/:person_id", s.handleGetProfile)
		v1.GET("/stats", s.handleStats)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleCreateBatch accepts a multipart survey CSV, runs the full pipeline,
// persists the outcome, and returns it.
func (s *Server) handleCreateBatch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), batchTimeout)
	defer cancel()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	var req types.AnalyzeRequest
	if err := c.ShouldBind(&req); err != nil {
		c.Error(errors.NewDataFormatError("invalid request parameters",
			map[string]string{"cause": err.Error()}))
		return
	}

	// Option values are client input; reject unknown ones as a 4xx before the
	// pipeline turns them into configuration errors.
	switch req.Estimator {
	case "", rasch.KindJMLE, rasch.KindPROX:
	default:
		c.Error(errors.NewDataFormatError(
			fmt.Sprintf("unknown estimator %q", req.Estimator),
			map[string]string{"allowed": "jmle, prox"}))
		return
	}
	switch traits.PercentileMode(req.PercentileMode) {
	case "", traits.ModePopulation, traits.ModeReference:
	default:
		c.Error(errors.NewDataFormatError(
			fmt.Sprintf("unknown percentile mode %q", req.PercentileMode),
			map[string]string{"allowed": "population, reference"}))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.Error(errors.NewDataFormatError("multipart field \"file\" with the survey CSV is required", nil))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.Error(errors.NewInternalError("failed to open uploaded file", err))
		return
	}
	defer file.Close()

	table, err := ingest.ReadCSV(file)
	if err != nil {
		c.Error(err)
		return
	}

	opts := pipeline.Options{
		Estimator:      req.Estimator,
		PercentileMode: traits.PercentileMode(req.PercentileMode),
		Narrative:      req.Narrative,
	}
	if req.Seed != 0 {
		opts.Cluster = cluster.DefaultConfig()
		opts.Cluster.Seed = req.Seed
	}

	outcome, err := s.pipe.Run(ctx, table, opts)
	if err != nil {
		c.Error(err)
		return
	}

	if err := s.store.SaveOutcome(ctx, outcome); err != nil {
		// The batch was scored; failing to persist it should not hide the
		// result from the caller.
		s.logger.Error("failed to persist batch outcome",
			"run_id", outcome.Report.RunID, "error", err)
	}
	s.metrics.RecordBatch(len(outcome.Profiles))

	c.JSON(http.StatusCreated, outcome)
}

func (s *Server) handleListBatches(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.Error(errors.NewInternalError("failed to list batch runs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleGetBatch(c *gin.Context) {
	key := "run:" + c.Param("id")
	if data, ok := s.reads.Get(key); ok {
		s.metrics.IncrementCacheHit()
		c.Data(http.StatusOK, "application/json", data)
		return
	}
	s.metrics.IncrementCacheMiss()

	report, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(errors.NewInternalError("failed to read batch run", err))
		return
	}
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch run not found"})
		return
	}
	if data, err := json.Marshal(report); err == nil {
		s.reads.Set(key, data)
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleGetProfiles(c *gin.Context) {
	profiles, err := s.store.GetProfiles(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(errors.NewInternalError("failed to read profiles", err))
		return
	}
	if len(profiles) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (s *Server) handleStats(c *gin.Context) {
	snapshot := s.metrics.Snapshot()
	snapshot["cached_reads"] = s.reads.Size()
	snapshot["tracked_clients"] = s.limiter.Tracked()
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	p, err := s.store.GetProfile(c.Request.Context(), c.Param("id"), c.Param("person_id"))
	if err != nil {
		c.Error(errors.NewInternalError("failed to read profile", err))
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}
