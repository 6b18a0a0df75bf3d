package service

import (
	"context"
	"testing"
	"time"

	"edunotify/internal/model"
	"edunotify/internal/repository"
)

type statsStubRepo struct {
	repository.MessageLogRepository

	statusCounts   map[string]int64
	categoryCounts map[string]int64

	gotTenant string
	gotFrom   *time.Time
	gotTo     *time.Time

	resetTenant string
	resetLimit  int
	resetReturn int64

	listStatus string
	listLimit  int
}

func (r *statsStubRepo) StatusCounts(ctx context.Context, from, to *time.Time, tenantID string) (map[string]int64, error) {
	r.gotFrom, r.gotTo, r.gotTenant = from, to, tenantID
	return r.statusCounts, nil
}

func (r *statsStubRepo) CategoryCounts(ctx context.Context, from, to *time.Time, tenantID string) (map[string]int64, error) {
	return r.categoryCounts, nil
}

func (r *statsStubRepo) CountByStatus(ctx context.Context, status string, tenantID string) (int64, error) {
	r.gotTenant = tenantID
	return r.statusCounts[status], nil
}

func (r *statsStubRepo) ResetTerminalFailed(ctx context.Context, tenantID string, limit int) (int64, error) {
	r.resetTenant, r.resetLimit = tenantID, limit
	return r.resetReturn, nil
}

func (r *statsStubRepo) ListByStatus(ctx context.Context, status string, tenantID string, limit int) ([]*model.MessageLog, error) {
	r.listStatus, r.listLimit = status, limit
	return nil, nil
}

func (r *statsStubRepo) ListRecent(ctx context.Context, tenantID string, limit int) ([]*model.MessageLog, error) {
	r.listLimit = limit
	return nil, nil
}

type stubTrigger struct {
	ran    bool
	result bool
}

func (t *stubTrigger) TriggerCycle(ctx context.Context) bool {
	t.ran = true
	return t.result
}

func TestGetStatistics(t *testing.T) {
	repo := &statsStubRepo{
		statusCounts: map[string]int64{
			model.MessageStatusSent:     80,
			model.MessageStatusFailed:   10,
			model.MessageStatusPending:  6,
			model.MessageStatusRetrying: 4,
		},
		categoryCounts: map[string]int64{
			model.CategoryAttendance: 60,
			model.CategoryPayment:    40,
		},
	}
	s := NewStatsService(repo, &stubTrigger{})

	from := time.Now().Add(-24 * time.Hour)
	stats, err := s.GetStatistics(context.Background(), &from, nil, "center-a")
	if err != nil {
		t.Fatalf("GetStatistics() error: %v", err)
	}

	if stats.Total != 100 {
		t.Fatalf("total = %d, want 100", stats.Total)
	}
	if stats.SuccessRate != 0.8 {
		t.Fatalf("success_rate = %v, want 0.8", stats.SuccessRate)
	}
	if stats.ByCategory[model.CategoryAttendance] != 60 {
		t.Fatalf("by_category[attendance] = %d, want 60", stats.ByCategory[model.CategoryAttendance])
	}
	if repo.gotTenant != "center-a" {
		t.Fatalf("tenant filter = %q, want center-a", repo.gotTenant)
	}
	if repo.gotFrom == nil || !repo.gotFrom.Equal(from) {
		t.Fatal("expected time range to be forwarded to repository")
	}
}

func TestGetStatistics_EmptyStore(t *testing.T) {
	repo := &statsStubRepo{statusCounts: map[string]int64{}, categoryCounts: map[string]int64{}}
	s := NewStatsService(repo, &stubTrigger{})

	stats, err := s.GetStatistics(context.Background(), nil, nil, "")
	if err != nil {
		t.Fatalf("GetStatistics() error: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("total = %d, want 0", stats.Total)
	}
	// total 为 0 时成功率是 0 而不是 NaN
	if stats.SuccessRate != 0 {
		t.Fatalf("success_rate = %v, want 0", stats.SuccessRate)
	}
}

func TestListByStatus_Validation(t *testing.T) {
	repo := &statsStubRepo{}
	s := NewStatsService(repo, &stubTrigger{})
	ctx := context.Background()

	if _, err := s.ListByStatus(ctx, "BOGUS", "", 10); err == nil {
		t.Fatal("expected error for invalid status")
	}

	if _, err := s.ListByStatus(ctx, model.MessageStatusFailed, "", 0); err != nil {
		t.Fatalf("ListByStatus() error: %v", err)
	}
	if repo.listLimit != 50 {
		t.Fatalf("limit clamp = %d, want 50", repo.listLimit)
	}

	if _, err := s.ListByStatus(ctx, model.MessageStatusSent, "", 500); err != nil {
		t.Fatalf("ListByStatus() error: %v", err)
	}
	if repo.listLimit != 50 {
		t.Fatalf("limit clamp = %d, want 50", repo.listLimit)
	}
}

func TestRetryFailed_CapsAt100(t *testing.T) {
	repo := &statsStubRepo{resetReturn: 7}
	s := NewStatsService(repo, &stubTrigger{})

	reset, err := s.RetryFailed(context.Background(), "center-a")
	if err != nil {
		t.Fatalf("RetryFailed() error: %v", err)
	}
	if reset != 7 {
		t.Fatalf("reset = %d, want 7", reset)
	}
	if repo.resetLimit != 100 {
		t.Fatalf("limit = %d, want 100", repo.resetLimit)
	}
	if repo.resetTenant != "center-a" {
		t.Fatalf("tenant = %q, want center-a", repo.resetTenant)
	}
}

func TestTriggerCycle_Delegates(t *testing.T) {
	trigger := &stubTrigger{result: false}
	s := NewStatsService(&statsStubRepo{}, trigger)

	if s.TriggerCycle(context.Background()) {
		t.Fatal("expected trigger result to be forwarded")
	}
	if !trigger.ran {
		t.Fatal("expected trigger to be invoked")
	}
}
