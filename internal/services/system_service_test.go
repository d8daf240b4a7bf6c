package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/sahra-camps/api/internal/domain"
	"github.com/sahra-camps/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func stripeReadiness() RefundReadiness {
	return RefundReadiness{Providers: []string{"stripe"}, DefaultProvider: "stripe"}
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, time.March, 1, 6, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "0.4.0", CommitSHA: "9f1c2e", Environment: "staging", StartedAt: start},
		Refunds:          stripeReadiness(),
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if report.Version != "0.4.0" || report.CommitSHA != "9f1c2e" || report.Environment != "staging" {
		t.Fatalf("unexpected build metadata %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected uptime 1h30m, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect, got %d", repo.calls)
	}
}

func TestSystemServiceReportsRefundReadiness(t *testing.T) {
	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		repoStatus  string
		readiness   RefundReadiness
		wantStatus  string
		wantPolicy  string
		wantGateway domain.SystemHealthCheck
	}{
		{
			name:        "policy file and default gateway",
			readiness:   RefundReadiness{PolicySource: "/etc/sahra/refunds.yaml", Providers: []string{"stripe", "tap"}, DefaultProvider: "stripe"},
			wantStatus:  domain.HealthStatusOK,
			wantPolicy:  "/etc/sahra/refunds.yaml",
			wantGateway: domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "stripe,tap (default stripe)"},
		},
		{
			name:        "built-in policy without default",
			readiness:   RefundReadiness{Providers: []string{"tap"}},
			wantStatus:  domain.HealthStatusOK,
			wantPolicy:  "built-in defaults",
			wantGateway: domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "tap"},
		},
		{
			name:        "no gateway degrades a healthy report",
			repoStatus:  domain.HealthStatusOK,
			readiness:   RefundReadiness{Providers: []string{" "}},
			wantStatus:  domain.HealthStatusDegraded,
			wantPolicy:  "built-in defaults",
			wantGateway: domain.SystemHealthCheck{Status: domain.HealthStatusDegraded, Error: "no refund gateway configured"},
		},
		{
			name:        "repository error outranks gateway state",
			repoStatus:  domain.HealthStatusError,
			wantStatus:  domain.HealthStatusError,
			wantPolicy:  "built-in defaults",
			wantGateway: domain.SystemHealthCheck{Status: domain.HealthStatusDegraded, Error: "no refund gateway configured"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubHealthRepository{report: domain.SystemHealthReport{Status: tc.repoStatus}}
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: repo,
				Clock:            func() time.Time { return now },
				Refunds:          tc.readiness,
			})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}

			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, report.Status)
			}

			policy, ok := report.Checks["refundPolicy"]
			if !ok || policy.Status != domain.HealthStatusOK || policy.Detail != tc.wantPolicy {
				t.Fatalf("unexpected policy check %+v", policy)
			}
			gateway := report.Checks["refundGateways"]
			if gateway.Status != tc.wantGateway.Status || gateway.Detail != tc.wantGateway.Detail || gateway.Error != tc.wantGateway.Error {
				t.Fatalf("unexpected gateway check %+v", gateway)
			}
			if !gateway.CheckedAt.Equal(now) {
				t.Fatalf("expected gateway checkedAt %s, got %s", now, gateway.CheckedAt)
			}
		})
	}
}

func TestSystemServiceDerivesStatusWhenMissing(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"pubsub":    {Status: domain.HealthStatusDegraded},
			"firestore": {Status: domain.HealthStatusOK},
		},
	}}

	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Refunds: stripeReadiness()})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if len(report.Checks) != 4 {
		t.Fatalf("expected repository and refund checks, got %v", report.Checks)
	}
}

func TestSystemServiceHealthReportErrors(t *testing.T) {
	collectErr := errors.New("firestore: unavailable")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected %v, got %v", collectErr, err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without health repository")
	}
}
