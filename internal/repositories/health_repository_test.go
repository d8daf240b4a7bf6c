package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/sahra-camps/api/internal/domain"
)

func okCheck(context.Context) error { return nil }

func slowCheck(delay time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-time.After(delay):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestDependencyHealthRepositoryCollect(t *testing.T) {
	gatewayDown := errors.New("stripe: connection refused")

	cases := []struct {
		name        string
		checks      []DependencyCheck
		wantStatus  string
		wantChecks  map[string]string
		wantDetails map[string]string
	}{
		{
			name: "all healthy",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: slowCheck(5 * time.Millisecond)},
				{Name: "pubsub", Check: okCheck},
			},
			wantStatus: domain.HealthStatusOK,
			wantChecks: map[string]string{"firestore": domain.HealthStatusOK, "pubsub": domain.HealthStatusOK},
		},
		{
			name: "optional failure degrades",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Check: okCheck},
				{Name: "payments", Check: func(context.Context) error { return gatewayDown }},
			},
			wantStatus:  domain.HealthStatusDegraded,
			wantChecks:  map[string]string{"firestore": domain.HealthStatusOK, "payments": domain.HealthStatusDegraded},
			wantDetails: map[string]string{"payments": gatewayDown.Error()},
		},
		{
			name: "critical timeout errors the report",
			checks: []DependencyCheck{
				{Name: "firestore", Critical: true, Timeout: 5 * time.Millisecond, Check: slowCheck(time.Second)},
				{Name: "payments", Check: func(context.Context) error { return gatewayDown }},
			},
			wantStatus:  domain.HealthStatusError,
			wantChecks:  map[string]string{"firestore": domain.HealthStatusError, "payments": domain.HealthStatusDegraded},
			wantDetails: map[string]string{"firestore": "timeout"},
		},
	}

	now := time.Date(2025, time.January, 12, 6, 0, 0, 0, time.UTC)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo, err := NewDependencyHealthRepository(tc.checks, WithDependencyClock(func() time.Time { return now }))
			require.NoError(t, err)

			report, err := repo.Collect(context.Background())
			require.NoError(t, err)

			assert.Equal(t, tc.wantStatus, report.Status)
			assert.Equal(t, now, report.GeneratedAt)
			require.Len(t, report.Checks, len(tc.wantChecks))
			for name, want := range tc.wantChecks {
				check, ok := report.Checks[name]
				require.True(t, ok, "missing check %s", name)
				assert.Equal(t, want, check.Status, name)
				assert.Equal(t, now, check.CheckedAt, name)
			}
			for name, detail := range tc.wantDetails {
				assert.Equal(t, detail, report.Checks[name].Detail, name)
			}
		})
	}
}

func TestDependencyHealthRepositoryFailureKeepsError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "secretManager", Check: func(context.Context) error { return errors.New("permission denied") }},
	})
	require.NoError(t, err)

	report, err := repo.Collect(context.Background())
	require.NoError(t, err)

	check := report.Checks["secretManager"]
	assert.Equal(t, "permission denied", check.Error)
	assert.Equal(t, domain.HealthStatusDegraded, check.Status)
}

func TestNewDependencyHealthRepositoryRejectsInvalidChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: "  ", Check: okCheck}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "firestore", Check: okCheck}, {Name: " firestore ", Check: okCheck}},
	}
	for name, checks := range cases {
		_, err := NewDependencyHealthRepository(checks)
		assert.Error(t, err, name)
	}
}
