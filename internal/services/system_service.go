package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// RefundReadiness describes how the refund pipeline was configured at startup. PolicySource is the
// tier policy file in use; empty means the built-in defaults.
type RefundReadiness struct {
	PolicySource    string
	Providers       []string
	DefaultProvider string
}

const (
	checkRefundPolicy   = "refundPolicy"
	checkRefundGateways = "refundGateways"

	builtinPolicySource = "built-in defaults"
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	Refunds          RefundReadiness
}

type systemService struct {
	healthRepo repositories.HealthRepository
	clock      func() time.Time
	build      BuildInfo
	refunds    RefundReadiness
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind /healthz and /readyz.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		clock: func() time.Time {
			return clock().UTC()
		},
		build:   build,
		refunds: deps.Refunds,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.clock()
	report.GeneratedAt = ensureTimestamp(report.GeneratedAt, now)
	report.Version = chooseFirstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = chooseFirstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = chooseFirstNonEmpty(report.Environment, s.build.Environment)

	if report.Uptime <= 0 && !s.build.StartedAt.IsZero() {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	if len(report.Checks) == 0 {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	refundChecks := s.refundChecks(now)
	for name, check := range refundChecks {
		report.Checks[name] = check
	}

	if strings.TrimSpace(report.Status) == "" {
		report.Status = deriveStatus(report.Checks)
	} else {
		report.Status = worseStatus(report.Status, deriveStatus(refundChecks))
	}

	return report, nil
}

// refundChecks reports the policy source and gateways the refund pipeline runs with. A service
// without a gateway can still cancel bookings, so it is degraded rather than down.
func (s *systemService) refundChecks(now time.Time) map[string]domain.SystemHealthCheck {
	source := strings.TrimSpace(s.refunds.PolicySource)
	if source == "" {
		source = builtinPolicySource
	}
	checks := map[string]domain.SystemHealthCheck{
		checkRefundPolicy: {Status: domain.HealthStatusOK, Detail: source, CheckedAt: now},
	}

	providers := make([]string, 0, len(s.refunds.Providers))
	for _, name := range s.refunds.Providers {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			providers = append(providers, trimmed)
		}
	}
	gateways := domain.SystemHealthCheck{Status: domain.HealthStatusOK, CheckedAt: now}
	switch {
	case len(providers) == 0:
		gateways.Status = domain.HealthStatusDegraded
		gateways.Error = "no refund gateway configured"
	case strings.TrimSpace(s.refunds.DefaultProvider) != "":
		gateways.Detail = fmt.Sprintf("%s (default %s)", strings.Join(providers, ","), strings.TrimSpace(s.refunds.DefaultProvider))
	default:
		gateways.Detail = strings.Join(providers, ",")
	}
	checks[checkRefundGateways] = gateways
	return checks
}

func ensureTimestamp(ts time.Time, fallback time.Time) time.Time {
	if ts.IsZero() {
		return fallback
	}
	return ts.UTC()
}

func chooseFirstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func worseStatus(a, b string) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusError:
			return 2
		case domain.HealthStatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) string {
	if len(checks) == 0 {
		return domain.HealthStatusOK
	}
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
			continue
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
