package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
	"github.com/claim-automation-server/internal/templates"
)

// CoreDeps are the stores and collaborators the claim automation core runs on.
// Generator and Cache may be nil.
type CoreDeps struct {
	Claims    domain.ClaimRepository
	Clinic    domain.ClinicDirectory
	Settings  domain.SettingsProvider
	Templates templates.Store
	Cache     *templates.Cache
	Generator domain.TextGenerator
	Notifier  domain.NotificationSink
	Logger    *logrus.Logger
}

// CoreConfig groups the tunables of the three engines.
type CoreConfig struct {
	Workflow   domain.WorkflowConfig
	Learning   domain.LearningConfig
	Monitoring domain.MonitoringConfig
}

// Core bundles the workflow engine, the learning service and the monitor so
// the HTTP API and the MCP server expose the same wiring.
type Core struct {
	Workflow *WorkflowEngine
	Learning *LearningService
	Monitor  *Monitor
	Sweeper  *Sweeper
	settings domain.SettingsProvider
	logger   *logrus.Logger
}

// NewCore wires the engines together.
func NewCore(deps CoreDeps, config CoreConfig) *Core {
	learning := NewLearningService(deps.Claims, deps.Templates, deps.Cache, deps.Logger, config.Learning)
	workflow := NewWorkflowEngine(WorkflowDeps{
		Claims:    deps.Claims,
		Clinic:    deps.Clinic,
		Advisor:   learning,
		Learner:   learning,
		Generator: deps.Generator,
		Notifier:  deps.Notifier,
		Logger:    deps.Logger,
	}, config.Workflow)
	monitor := NewMonitor(deps.Claims, deps.Generator, deps.Notifier, deps.Logger, config.Monitoring)

	return &Core{
		Workflow: workflow,
		Learning: learning,
		Monitor:  monitor,
		Sweeper:  NewSweeper(monitor, deps.Logger),
		settings: deps.Settings,
		logger:   deps.Logger,
	}
}

// Settings reads the runtime workflow settings once per invocation. A failed
// read falls back to the zero settings, which never auto-submit.
func (c *Core) Settings(ctx context.Context) domain.WorkflowSettings {
	if c.settings == nil {
		return domain.WorkflowSettings{}
	}
	settings, err := c.settings.WorkflowSettings(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read workflow settings, auto-submit disabled")
		return domain.WorkflowSettings{}
	}
	return settings
}
