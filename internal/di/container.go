package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sahra-camps/api/internal/payments"
	"github.com/sahra-camps/api/internal/platform/config"
	"github.com/sahra-camps/api/internal/platform/observability"
	"github.com/sahra-camps/api/internal/refunds"
	"github.com/sahra-camps/api/internal/repositories"
	"github.com/sahra-camps/api/internal/services"
)

// Services bundles the service-layer contracts that handlers and scheduled jobs rely upon.
type Services struct {
	Cancellations services.CancellationService
	Refunds       services.RefundService
	System        services.SystemService
}

// Integrations carries collaborators built outside the repository layer. Events, Notifier and
// Metrics are optional.
type Integrations struct {
	Engine   *refunds.Engine
	Payments *payments.Manager
	Events   services.BookingEventPublisher
	Notifier services.CancellationNotifier
	Metrics  services.RefundMetrics
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Integrations) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Integrations) (Services, error) {
	var svc Services
	if deps.Engine == nil {
		return svc, errors.New("refund engine is required")
	}
	if deps.Payments == nil {
		return svc, errors.New("payment manager is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            deps.Build,
			Refunds: services.RefundReadiness{
				PolicySource:    cfg.Refunds.PolicyFile,
				Providers:       deps.Payments.Providers(),
				DefaultProvider: deps.Payments.DefaultProvider(),
			},
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Bookings:     reg.Bookings(),
		Camps:        reg.Camps(),
		Transactions: reg.Transactions(),
		UnitOfWork:   reg,
		Engine:       deps.Engine,
		Payments:     deps.Payments,
		Events:       deps.Events,
		Notifier:     deps.Notifier,
		Metrics:      deps.Metrics,
		Clock:        clock,
		Logger:       observability.EventLogger(logger, "refunds"),
		MaxAttempts:  cfg.Refunds.MaxAttempts,
		BatchSize:    cfg.Refunds.ReconcileBatchSize,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}
	svc.Refunds = refundSvc

	cancellationSvc, err := services.NewCancellationService(services.CancellationServiceDeps{
		Bookings:   reg.Bookings(),
		Camps:      reg.Camps(),
		UnitOfWork: reg,
		Engine:     deps.Engine,
		Refunds:    refundSvc,
		Events:     deps.Events,
		Notifier:   deps.Notifier,
		Metrics:    deps.Metrics,
		Clock:      clock,
		Logger:     observability.EventLogger(logger, "cancellations"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cancellation service: %w", err)
	}
	svc.Cancellations = cancellationSvc

	return svc, nil
}
