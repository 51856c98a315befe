package serve

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor"
	"github.com/sthembisoo/api-error-monitor/monitor/forensics"
	"github.com/sthembisoo/api-error-monitor/monitor/retry"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const serviceName = "api-error-monitor"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// CaptureRequest is the body of POST /v1/errors.
type CaptureRequest struct {
	Error        string         `json:"error" binding:"required"`
	StackTrace   string         `json:"stackTrace"`
	Endpoint     string         `json:"endpoint"`
	RequestData  map[string]any `json:"requestData"`
	ResponseData any            `json:"responseData"`
	Key          string         `json:"key"`
	ExpectedType string         `json:"expectedType"`
	ReceivedType string         `json:"receivedType"`
}

// ExtractRequest is the body of POST /v1/extract.
type ExtractRequest struct {
	Error      string `json:"error" binding:"required"`
	StackTrace string `json:"stackTrace"`
}

// ExtractResponse is what POST /v1/extract returns.
type ExtractResponse struct {
	Kind types.Kind         `json:"kind"`
	Info types.ApiErrorInfo `json:"info"`
}

// ReportsResponse is what GET /v1/reports returns.
type ReportsResponse struct {
	Reports []types.ApiErrorReport `json:"reports"`
	Count   int                    `json:"count"`
}

// StatusResponse is what GET /v1/status returns.
type StatusResponse struct {
	AppName   string `json:"appName"`
	Reporting bool   `json:"reporting"`
	Pending   int    `json:"pending"`
	Storage   string `json:"storage,omitempty"`
}

// Handlers serves the sidecar API over a Monitor.
type Handlers struct {
	// ctx lives as long as the server; background drains run on it.
	ctx     context.Context
	monitor *monitor.Monitor
	logger  *zap.Logger
}

func NewHandlers(ctx context.Context, m *monitor.Monitor, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{ctx: ctx, monitor: m, logger: logger.Named("http")}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handlers, debug bool) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	if debug {
		router.Use(gin.Logger())
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router.Group("/v1"), h)
	return router
}

func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	rg.POST("/errors", h.HandleCapture)
	rg.POST("/extract", h.HandleExtract)
	rg.POST("/drain", h.HandleDrain)
	rg.GET("/reports", h.HandleListReports)
	rg.DELETE("/reports", h.HandleClearReports)
	rg.GET("/status", h.HandleStatus)
}

// HandleCapture records a deserialization failure reported by the application.
//
// Response:
//
//	202 Accepted: the report was handled (delivered, queued, or filtered)
//	400 Bad Request: missing or malformed body
func (h *Handlers) HandleCapture(c *gin.Context) {
	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	h.monitor.Capture(c.Request.Context(), errors.New(req.Error), monitor.CaptureInput{
		StackTrace:   req.StackTrace,
		Endpoint:     req.Endpoint,
		RequestData:  req.RequestData,
		ResponseData: req.ResponseData,
		Key:          req.Key,
		ExpectedType: req.ExpectedType,
		ReceivedType: req.ReceivedType,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "pending": h.monitor.Pending()})
}

// HandleExtract runs extraction only. Nothing is stored or sent.
func (h *Handlers) HandleExtract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	err := errors.New(req.Error)
	c.JSON(http.StatusOK, ExtractResponse{
		Kind: forensics.Classify(err, req.StackTrace).Kind,
		Info: h.monitor.Extract(c.Request.Context(), err, req.StackTrace),
	})
}

// HandleDrain redelivers the retry queue. The drain runs in the background on the server
// context unless wait=true is given.
//
// Query parameters:
//
//	wait: run the drain inside the request and return its result (optional)
//
// Response:
//
//	200 OK: retry.Result (wait=true)
//	202 Accepted: the drain started
//	409 Conflict: a drain is already running
//	503 Service Unavailable: no sink configured
func (h *Handlers) HandleDrain(c *gin.Context) {
	if !h.monitor.HasSink() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: monitor.ErrNoSink.Error(), Code: "NO_SINK"})
		return
	}
	if h.monitor.Draining() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: retry.ErrDrainInProgress.Error(), Code: "DRAIN_IN_PROGRESS"})
		return
	}

	if c.Query("wait") != "true" {
		pending := h.monitor.Pending()
		go h.drain(h.ctx)
		c.JSON(http.StatusAccepted, gin.H{"status": "draining", "pending": pending})
		return
	}

	res, err := h.monitor.Drain(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, res)
	case errors.Is(err, retry.ErrDrainInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "DRAIN_IN_PROGRESS"})
	default:
		h.logger.Warn("drain failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "DRAIN_FAILED"})
	}
}

func (h *Handlers) drain(ctx context.Context) {
	res, err := h.monitor.Drain(ctx)
	switch {
	case err == nil:
		h.logger.Debug("background drain finished", zap.Int("delivered", res.Delivered), zap.Int("dropped", res.Dropped))
	case errors.Is(err, retry.ErrDrainInProgress), errors.Is(err, context.Canceled):
		h.logger.Debug("background drain stopped", zap.Error(err))
	default:
		h.logger.Warn("background drain failed", zap.Error(err))
	}
}

// HandleListReports returns stored reports, newest first.
//
// Query parameters:
//
//	endpoint: only reports for this endpoint (optional)
//	limit: maximum number of reports (optional)
func (h *Handlers) HandleListReports(c *gin.Context) {
	st := h.monitor.Store()
	if st == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "local storage is disabled", Code: "STORAGE_DISABLED"})
		return
	}

	reports, err := st.ListAll(c.Request.Context())
	if err != nil {
		h.logger.Warn("failed to list reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}

	if endpoint := c.Query("endpoint"); endpoint != "" {
		reports = lo.Filter(reports, func(r types.ApiErrorReport, _ int) bool {
			return r.Endpoint == endpoint
		})
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 && limit < len(reports) {
			reports = reports[:limit]
		}
	}
	if reports == nil {
		reports = []types.ApiErrorReport{}
	}

	c.JSON(http.StatusOK, ReportsResponse{Reports: reports, Count: len(reports)})
}

func (h *Handlers) HandleClearReports(c *gin.Context) {
	st := h.monitor.Store()
	if st == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "local storage is disabled", Code: "STORAGE_DISABLED"})
		return
	}
	if err := st.ClearAll(c.Request.Context()); err != nil {
		h.logger.Warn("failed to clear reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "STORE_FAILED"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) HandleStatus(c *gin.Context) {
	cfg := h.monitor.Config()
	resp := StatusResponse{
		AppName:   cfg.AppName,
		Reporting: cfg.ReportingActive(),
		Pending:   h.monitor.Pending(),
	}
	if st := h.monitor.Store(); st != nil {
		resp.Storage = st.DirectoryPath()
	}
	c.JSON(http.StatusOK, resp)
}
