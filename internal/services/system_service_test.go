package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
)

type fakeHealthCollector struct {
	report  domain.SystemHealthReport
	err     error
	collect int
}

func (f *fakeHealthCollector) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	f.collect++
	return f.report, f.err
}

func TestHealthReportStampsBuildMetadata(t *testing.T) {
	started := time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC)
	now := started.Add(5 * time.Minute)
	collector := &fakeHealthCollector{
		report: domain.SystemHealthReport{
			Checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
			},
		},
	}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: collector,
		Clock:            func() time.Time { return now },
		Build: BuildInfo{
			Version:     "2.3.1",
			CommitSHA:   "f00dcafe",
			Environment: "staging",
			StartedAt:   started,
		},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if collector.collect != 1 {
		t.Fatalf("collect called %d times, want 1", collector.collect)
	}
	if report.Version != "2.3.1" || report.CommitSHA != "f00dcafe" || report.Environment != "staging" {
		t.Fatalf("build metadata not stamped: %#v", report)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("uptime = %v, want 5m", report.Uptime)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("status = %q, want ok", report.Status)
	}
	if report.GeneratedAt != now {
		t.Fatalf("generatedAt = %v, want %v", report.GeneratedAt, now)
	}
}

func TestHealthReportDerivesStatusFromChecks(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{
			name:   "no checks",
			checks: nil,
			want:   domain.HealthStatusOK,
		},
		{
			name: "one degraded dependency",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusOK},
				"provider":  {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusDegraded,
		},
		{
			name: "error wins over degraded",
			checks: map[string]domain.SystemHealthCheck{
				"firestore": {Status: domain.HealthStatusError},
				"provider":  {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusError,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{
				HealthRepository: &fakeHealthCollector{report: domain.SystemHealthReport{Checks: tc.checks}},
			})
			if err != nil {
				t.Fatalf("new system service: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("health report: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("status = %q, want %q", report.Status, tc.want)
			}
		})
	}
}

func TestHealthReportPropagatesCollectorError(t *testing.T) {
	collectErr := errors.New("firestore unreachable")
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthCollector{err: collectErr},
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("health report error = %v, want %v", err, collectErr)
	}
}

func TestNextCounterValueDefaultsAndValidation(t *testing.T) {
	counters := &stubCounterRepository{
		nextFunc: func(_ context.Context, counterID string, step int64) (int64, error) {
			if counterID != "invoices" {
				t.Fatalf("counter id = %q, want invoices", counterID)
			}
			if step != 1 {
				t.Fatalf("step = %d, want default 1", step)
			}
			return 42, nil
		},
	}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: &fakeHealthCollector{},
		Counters:         counters,
	})
	if err != nil {
		t.Fatalf("new system service: %v", err)
	}

	value, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "invoices"})
	if err != nil {
		t.Fatalf("next counter value: %v", err)
	}
	if value != 42 {
		t.Fatalf("value = %d, want 42", value)
	}

	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "  "}); err == nil {
		t.Fatal("blank counter id accepted")
	}
	if _, err := svc.NextCounterValue(context.Background(), CounterCommand{CounterID: "invoices", Step: -1}); err == nil {
		t.Fatal("negative step accepted")
	}
}
