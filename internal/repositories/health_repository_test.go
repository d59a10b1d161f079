package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/warungkita/api/internal/domain"
)

func TestDependencyHealthCollect(t *testing.T) {
	now := time.Date(2026, time.September, 1, 9, 30, 0, 0, time.UTC)

	t.Run("all dependencies healthy", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "firestore", Check: func(ctx context.Context) error {
				select {
				case <-time.After(5 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}},
			{Name: "payment-provider", Check: func(context.Context) error { return nil }},
		}, WithDependencyClock(func() time.Time { return now }))
		if err != nil {
			t.Fatalf("build repository: %v", err)
		}

		report, err := repo.Collect(context.Background())
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		if report.Status != domain.HealthStatusOK {
			t.Fatalf("report status = %s, want ok", report.Status)
		}
		if len(report.Checks) != 2 {
			t.Fatalf("got %d checks, want 2", len(report.Checks))
		}
		for name, check := range report.Checks {
			if check.Status != domain.HealthStatusOK {
				t.Fatalf("check %s status = %s, want ok", name, check.Status)
			}
			if !check.CheckedAt.Equal(now) {
				t.Fatalf("check %s checkedAt = %s, want %s", name, check.CheckedAt, now)
			}
		}
		if !report.GeneratedAt.Equal(now) {
			t.Fatalf("generatedAt = %s, want %s", report.GeneratedAt, now)
		}
	})

	t.Run("failing dependency degrades the report", func(t *testing.T) {
		probeErr := errors.New("connection refused")
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{Name: "payment-provider", Check: func(context.Context) error { return probeErr }},
			{Name: "firestore", Check: func(context.Context) error { return nil }},
		})
		if err != nil {
			t.Fatalf("build repository: %v", err)
		}

		report, err := repo.Collect(context.Background())
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		if report.Status != domain.HealthStatusDegraded {
			t.Fatalf("report status = %s, want degraded", report.Status)
		}
		check := report.Checks["payment-provider"]
		if check.Status != domain.HealthStatusDegraded {
			t.Fatalf("probe status = %s, want degraded", check.Status)
		}
		if check.Error != probeErr.Error() {
			t.Fatalf("probe error = %q, want %q", check.Error, probeErr.Error())
		}
	})

	t.Run("slow dependency fails readiness", func(t *testing.T) {
		repo, err := NewDependencyHealthRepository([]DependencyCheck{
			{
				Name:    "secrets",
				Timeout: 5 * time.Millisecond,
				Check: func(ctx context.Context) error {
					select {
					case <-time.After(50 * time.Millisecond):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				},
			},
		})
		if err != nil {
			t.Fatalf("build repository: %v", err)
		}

		report, err := repo.Collect(context.Background())
		if err != nil {
			t.Fatalf("collect: %v", err)
		}
		if report.Status != domain.HealthStatusError {
			t.Fatalf("report status = %s, want error", report.Status)
		}
		if detail := report.Checks["secrets"].Detail; detail != "timeout" {
			t.Fatalf("probe detail = %q, want timeout", detail)
		}
	})
}

func TestDependencyHealthValidation(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil); err == nil {
		t.Fatal("empty check set accepted")
	}

	repo, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "  ", Check: func(context.Context) error { return nil }}})
	if err != nil {
		t.Fatalf("build repository: %v", err)
	}
	if _, err := repo.Collect(context.Background()); err == nil {
		t.Fatal("blank check name accepted")
	}

	repo, err = NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}})
	if err != nil {
		t.Fatalf("build repository: %v", err)
	}
	if _, err := repo.Collect(context.Background()); err == nil {
		t.Fatal("nil check function accepted")
	}
}
