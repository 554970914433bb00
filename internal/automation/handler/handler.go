package handler

import (
	"context"
	"net/http"
	"time"

	"pipeline_backend/internal/automation/cadence"
	"pipeline_backend/internal/automation/distribution"
	"pipeline_backend/internal/automation/domain"
	"pipeline_backend/internal/automation/qualify"
	"pipeline_backend/internal/automation/rules"
	"pipeline_backend/internal/automation/sla"
	"pipeline_backend/internal/automation/temperature"
	"pipeline_backend/internal/automation/transport"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Limits bounds the batch size callers may request.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) clamp(requested int) int {
	if requested <= 0 {
		return l.Default
	}
	if l.Max > 0 && requested > l.Max {
		return l.Max
	}
	return requested
}

// JobRunner runs the engine jobs and reports their status.
type JobRunner interface {
	Rules(ctx context.Context, opts rules.RunOptions) (*domain.RunReport, error)
	SLA(ctx context.Context, opts sla.Options) (*domain.RunReport, error)
	Distribution(ctx context.Context, opts distribution.Options) (*domain.RunReport, error)
	Temperature(ctx context.Context, opts temperature.Options) (*domain.RunReport, error)
	Cadences(ctx context.Context, opts cadence.Options) (*domain.RunReport, error)
	Qualify(ctx context.Context, opts qualify.Options) (*domain.RunReport, error)
	Status(ctx context.Context) (map[string]domain.JobStatus, error)
}

// Handler exposes the engine entry points.
type Handler struct {
	runner JobRunner
	val    *validator.Validator
	limits Limits
	log    *logger.Logger
	now    func() time.Time
}

func New(runner JobRunner, val *validator.Validator, limits Limits, log *logger.Logger) *Handler {
	return &Handler{runner: runner, val: val, limits: limits, log: log, now: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/rules/run", h.RunRules)
	rg.POST("/sla/check", h.CheckSLA)
	rg.POST("/distribution/run", h.RunDistribution)
	rg.POST("/temperature/run", h.RunTemperature)
	rg.POST("/cadences/run", h.RunCadences)
	rg.POST("/qualify", h.Qualify)
	rg.GET("/status", h.Status)
}

// bind decodes an optional JSON body and validates it. An empty body means
// every option takes its default.
func (h *Handler) bind(c *gin.Context, req any) bool {
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
			return false
		}
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}

func (h *Handler) respond(c *gin.Context, report *domain.RunReport, err error) {
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.RunResponse(report, h.now()))
}

func (h *Handler) logCaller(c *gin.Context, job string) {
	caller := httpkit.GetCaller(c)
	h.log.WithContext(c.Request.Context()).Debug("automation run requested", "job", job, "caller", caller.Subject())
}

func (h *Handler) RunRules(c *gin.Context) {
	var req transport.RunRulesRequest
	if !h.bind(c, &req) {
		return
	}
	h.logCaller(c, "rules")

	mode := req.Action
	if mode == "" {
		mode = rules.ModeRun
	}
	report, err := h.runner.Rules(c.Request.Context(), rules.RunOptions{
		Mode:       mode,
		RuleID:     transport.OptionalID(req.RuleID),
		PipelineID: transport.OptionalID(req.PipelineID),
		LeadID:     transport.OptionalID(req.LeadID),
		Limit:      h.limits.clamp(req.Limit),
		MaxPages:   req.MaxPages,
		DryRun:     req.DryRun,
	})
	h.respond(c, report, err)
}

func (h *Handler) CheckSLA(c *gin.Context) {
	var req transport.SLACheckRequest
	if !h.bind(c, &req) {
		return
	}
	h.logCaller(c, "sla")

	report, err := h.runner.SLA(c.Request.Context(), sla.Options{
		PipelineID: transport.OptionalID(req.PipelineID),
		LeadID:     transport.OptionalID(req.LeadID),
		Limit:      h.limits.clamp(req.Limit),
		MaxPages:   req.MaxPages,
		DryRun:     req.DryRun,
	})
	h.respond(c, report, err)
}

func (h *Handler) RunDistribution(c *gin.Context) {
	var req transport.DistributionRequest
	if !h.bind(c, &req) {
		return
	}
	h.logCaller(c, "distribution")

	report, err := h.runner.Distribution(c.Request.Context(), distribution.Options{
		TeamID:     transport.OptionalID(req.TeamID),
		PipelineID: transport.OptionalID(req.PipelineID),
		Limit:      h.limits.clamp(req.Limit),
		MaxPages:   req.MaxPages,
		DryRun:     req.DryRun,
	})
	h.respond(c, report, err)
}

func (h *Handler) RunTemperature(c *gin.Context) {
	var req transport.TemperatureRequest
	if !h.bind(c, &req) {
		return
	}
	h.logCaller(c, "temperature")

	report, err := h.runner.Temperature(c.Request.Context(), temperature.Options{
		PipelineID: transport.OptionalID(req.PipelineID),
		LeadID:     transport.OptionalID(req.LeadID),
		Limit:      h.limits.clamp(req.Limit),
		StartPage:  req.StartPage,
		MaxPages:   req.MaxPages,
		DryRun:     req.DryRun,
	})
	h.respond(c, report, err)
}

func (h *Handler) RunCadences(c *gin.Context) {
	var req transport.CadenceRequest
	if !h.bind(c, &req) {
		return
	}
	h.logCaller(c, "cadences")

	report, err := h.runner.Cadences(c.Request.Context(), cadence.Options{
		CadenceID: transport.OptionalID(req.CadenceID),
		LeadID:    transport.OptionalID(req.LeadID),
		Limit:     h.limits.clamp(req.Limit),
		MaxPages:  req.MaxPages,
		DryRun:    req.DryRun,
	})
	h.respond(c, report, err)
}

func (h *Handler) Qualify(c *gin.Context) {
	var req transport.QualifyRequest
	if !h.bind(c, &req) {
		return
	}
	h.logCaller(c, "qualify")

	report, err := h.runner.Qualify(c.Request.Context(), qualify.Options{
		LeadID: uuid.MustParse(req.LeadID),
		DryRun: req.DryRun,
	})
	h.respond(c, report, err)
}

func (h *Handler) Status(c *gin.Context) {
	status, err := h.runner.Status(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{
		"success":   true,
		"jobs":      status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}
