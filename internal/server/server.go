package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rezonia/zatca-pipeline/internal/archive"
	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/credentials"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/pipeline"
	"github.com/rezonia/zatca-pipeline/internal/store"
	"github.com/rezonia/zatca-pipeline/internal/submission"
)

// Config holds server configuration
type Config struct {
	Address      string
	DatabasePath string
	SchemaDir    string
	ArchiveDir   string
	AuthorityURL string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Debug        bool
	Logger       *zap.Logger

	// Credentials overrides the CSID credential source; the stored
	// per-company credentials are used when nil
	Credentials credentials.Provider
}

// Server represents the HTTP API server
type Server struct {
	config    *Config
	router    *gin.Engine
	pipeline  *pipeline.Pipeline
	submitter *submission.Client
	configs   *store.ConfigRepository
	logger    *zap.Logger
}

// NewServer creates a new API server wired onto the given database
func NewServer(config *Config) (*Server, error) {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if config.Debug {
		router.Use(gin.Logger())
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := store.Open(config.DatabasePath)
	if err != nil {
		return nil, err
	}
	records := store.NewRecordRepository(db)
	configs := store.NewConfigRepository(db)
	validator := compliance.NewValidator(config.SchemaDir, nil)

	var arch *archive.Archive
	if config.ArchiveDir != "" {
		arch = archive.New(config.ArchiveDir)
	}

	pipeOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if arch != nil {
		pipeOpts = append(pipeOpts, pipeline.WithArchive(arch))
	}
	pipe := pipeline.New(records, validator, pipeOpts...)

	subOpts := []submission.Option{submission.WithLogger(logger)}
	if arch != nil {
		subOpts = append(subOpts, submission.WithArchive(arch))
	}
	if config.AuthorityURL != "" {
		subOpts = append(subOpts, submission.WithBaseURL(config.AuthorityURL))
	}
	provider := config.Credentials
	if provider == nil {
		provider = credentials.NewStoredProvider()
	}
	submitter := submission.NewClient(provider, validator, records, subOpts...)

	s := &Server{
		config:    config,
		router:    router,
		pipeline:  pipe,
		submitter: submitter,
		configs:   configs,
		logger:    logger,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		// Company configuration
		v1.PUT("/companies/:id/config", s.handleUpsertConfig)
		v1.GET("/companies/:id/config", s.handleGetConfig)

		// Generation and the chain
		v1.POST("/companies/:id/invoices", s.handleGenerate)
		v1.GET("/companies/:id/chain", s.handleChain)
		v1.GET("/companies/:id/chain/validate", s.handleValidateChain)
		v1.POST("/companies/:id/sweep", s.handleSweep)

		// Individual records
		v1.GET("/invoices/:uuid", s.handleGetRecord)
		v1.GET("/invoices/:uuid/qr", s.handleQRImage)
		v1.POST("/invoices/:uuid/verify", s.handleVerify)
		v1.POST("/invoices/:uuid/submit", s.handleSubmit)
		v1.GET("/invoices/:uuid/status", s.handleStatusLookup)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.config.Address,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	return srv.ListenAndServe()
}

// Handler returns the http.Handler for use with custom servers
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleUpsertConfig(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}

	var cfg model.Configuration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed configuration", Details: err.Error()})
		return
	}
	cfg.CompanyID = companyID

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	if err := s.configs.Save(ctx, &cfg); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleGetConfig(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	cfg, err := s.configs.ByCompany(ctx, companyID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleGenerate(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}

	var inv model.SourceInvoice
	if err := c.ShouldBindJSON(&inv); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed invoice", Details: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	cfg, err := s.configs.ByCompany(ctx, companyID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result, err := s.pipeline.Generate(ctx, inv, cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) handleChain(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	records, err := s.pipeline.Chain(ctx, companyID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ChainResponse{CompanyID: companyID, Length: len(records), Records: records})
}

func (s *Server) handleValidateChain(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	status, err := s.pipeline.ValidateChain(ctx, companyID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSweep(c *gin.Context) {
	companyID, ok := companyParam(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	cfg, err := s.configs.ByCompany(ctx, companyID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	sweep, err := s.submitter.SweepReportable(ctx, companyID, cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sweep)
}

func (s *Server) handleGetRecord(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rec, err := s.pipeline.Record(ctx, c.Param("uuid"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleQRImage(c *gin.Context) {
	size := 0
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "size must be a positive integer"})
			return
		}
		size = n
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	img, err := s.pipeline.QRImage(ctx, c.Param("uuid"), size)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", img)
}

func (s *Server) handleVerify(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	rec, err := s.pipeline.Record(ctx, c.Param("uuid"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	cfg, err := s.configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	report, err := s.pipeline.Verify(ctx, rec.UUID, cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}

	code := http.StatusOK
	if !report.Valid {
		code = http.StatusUnprocessableEntity
	}
	c.JSON(code, report)
}

func (s *Server) handleSubmit(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	rec, err := s.pipeline.Record(ctx, c.Param("uuid"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	cfg, err := s.configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	result := s.submitter.Submit(ctx, rec, cfg)
	c.JSON(submitStatusCode(result), result)
}

func (s *Server) handleStatusLookup(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	rec, err := s.pipeline.Record(ctx, c.Param("uuid"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	cfg, err := s.configs.ByCompany(ctx, rec.CompanyID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	lookup, err := s.submitter.LookupStatus(ctx, rec, cfg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lookup)
}

// Helper functions

func companyParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "company id must be a positive integer"})
		return 0, false
	}
	return id, true
}

// submitStatusCode maps a submission outcome onto an HTTP status
func submitStatusCode(res *submission.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Status {
	case model.StatusValidationFailed, model.StatusDeadlineMissed:
		return http.StatusUnprocessableEntity
	case model.StatusCSIDInvalid, model.StatusCleared, model.StatusReported:
		return http.StatusConflict
	case model.StatusAPIError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "record not found"})
		return
	}

	switch model.ErrorCode(err) {
	case model.ErrCodeValidation:
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case model.ErrCodeCredential:
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case model.ErrCodeCodec:
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
	case model.ErrCodeAPI:
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
