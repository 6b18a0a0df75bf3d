package job

import (
	"context"
	"testing"
	"time"

	"edunotify/internal/config"
	"edunotify/internal/model"
)

func TestRetentionSweep_DeletesOnlyOldSentMessages(t *testing.T) {
	repo := newFakeRepo()
	now := time.Now()

	oldSent := repo.add(&model.MessageLog{
		Destination: "chat-1",
		Category:    model.CategoryAttendance,
		Status:      model.MessageStatusSent,
		CreatedAt:   now.Add(-40 * 24 * time.Hour),
	})
	freshSent := repo.add(&model.MessageLog{
		Destination: "chat-2",
		Category:    model.CategoryAttendance,
		Status:      model.MessageStatusSent,
		CreatedAt:   now.Add(-24 * time.Hour),
	})
	// 同样超过保留期的永久失败消息必须保留，它是审计线索
	oldFailed := repo.add(&model.MessageLog{
		Destination: "chat-3",
		Category:    model.CategoryPayment,
		Status:      model.MessageStatusFailed,
		RetryCount:  3,
		CreatedAt:   now.Add(-40 * 24 * time.Hour),
	})

	s := NewRetentionSweep(repo, &config.DispatchConfig{RetentionDays: 30})
	s.sweep(context.Background())

	repo.mu.Lock()
	defer repo.mu.Unlock()

	if _, ok := repo.msgs[oldSent.ID]; ok {
		t.Fatal("expected old SENT message to be deleted")
	}
	if _, ok := repo.msgs[freshSent.ID]; !ok {
		t.Fatal("expected fresh SENT message to be kept")
	}
	if _, ok := repo.msgs[oldFailed.ID]; !ok {
		t.Fatal("expected old FAILED message to be kept")
	}

	if len(repo.deleteCutoffs) != 1 {
		t.Fatalf("sweep calls = %d, want 1", len(repo.deleteCutoffs))
	}
	cutoff := repo.deleteCutoffs[0]
	wantCutoff := now.Add(-30 * 24 * time.Hour)
	if diff := cutoff.Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want ~%v", cutoff, wantCutoff)
	}
}
