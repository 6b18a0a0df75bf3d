package service

import (
	"context"
	"errors"
	"testing"

	"edunotify/internal/model"
	"edunotify/internal/repository"
)

// enqueueStubRepo 只实现生产者用到的方法，其余走嵌入接口（调用即 panic，测试会立刻暴露）
type enqueueStubRepo struct {
	repository.MessageLogRepository
	created   []*model.MessageLog
	createErr error
}

func (r *enqueueStubRepo) Create(ctx context.Context, msg *model.MessageLog) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, msg)
	return nil
}

func (r *enqueueStubRepo) CreateBatch(ctx context.Context, msgs []*model.MessageLog) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.created = append(r.created, msgs...)
	return nil
}

func TestEnqueue_DefaultsAndPersistedFields(t *testing.T) {
	repo := &enqueueStubRepo{}
	s := NewNotifyService(repo)

	msg, err := s.Enqueue(context.Background(), &EnqueueRequest{
		Destination: "chat-1",
		Content:     "本周考勤汇总",
		Category:    model.CategoryAttendance,
		TenantID:    "center-a",
	})
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	if msg.ID == 0 {
		t.Fatal("expected snowflake id to be assigned")
	}
	if msg.Status != model.MessageStatusPending {
		t.Fatalf("status = %s, want PENDING", msg.Status)
	}
	if msg.Priority != model.PriorityNormal {
		t.Fatalf("priority = %d, want NORMAL (default)", msg.Priority)
	}
	if msg.TenantID != "center-a" {
		t.Fatalf("tenant_id = %q, want center-a", msg.TenantID)
	}
	if len(repo.created) != 1 {
		t.Fatalf("persisted records = %d, want 1", len(repo.created))
	}
}

func TestEnqueue_PriorityParsing(t *testing.T) {
	repo := &enqueueStubRepo{}
	s := NewNotifyService(repo)

	cases := []struct {
		in   string
		want int
	}{
		{"HIGH", model.PriorityHigh},
		{"high", model.PriorityHigh},
		{"LOW", model.PriorityLow},
		{"NORMAL", model.PriorityNormal},
		{"", model.PriorityNormal},
		{"whatever", model.PriorityNormal},
	}

	for _, c := range cases {
		msg, err := s.Enqueue(context.Background(), &EnqueueRequest{
			Destination: "chat-1",
			Content:     "x",
			Category:    model.CategoryAnnouncement,
			Priority:    c.in,
		})
		if err != nil {
			t.Fatalf("Enqueue(priority=%q) error: %v", c.in, err)
		}
		if msg.Priority != c.want {
			t.Errorf("priority %q parsed to %d, want %d", c.in, msg.Priority, c.want)
		}
	}
}

func TestEnqueue_ValidationAndStoreErrors(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		s := NewNotifyService(&enqueueStubRepo{})
		for _, req := range []*EnqueueRequest{
			{Content: "x", Category: model.CategoryResults},
			{Destination: "chat-1", Category: model.CategoryResults},
			{Destination: "chat-1", Content: "x"},
		} {
			if _, err := s.Enqueue(context.Background(), req); err == nil {
				t.Fatalf("expected validation error for %+v", req)
			}
		}
	})

	t.Run("store write failure propagates", func(t *testing.T) {
		// 入库失败绝不能吞掉，等价于静默丢通知
		repo := &enqueueStubRepo{createErr: errors.New("db down")}
		s := NewNotifyService(repo)
		if _, err := s.Enqueue(context.Background(), &EnqueueRequest{
			Destination: "chat-1", Content: "x", Category: model.CategoryResults,
		}); err == nil {
			t.Fatal("expected store error to propagate")
		}
	})
}

func TestEnqueueBatch(t *testing.T) {
	repo := &enqueueStubRepo{}
	s := NewNotifyService(repo)

	msgs, err := s.EnqueueBatch(context.Background(), []*EnqueueRequest{
		{Destination: "chat-1", Content: "a", Category: model.CategoryPayment},
		{Destination: "chat-2", Content: "b", Category: model.CategoryPayment, Priority: "HIGH"},
	})
	if err != nil {
		t.Fatalf("EnqueueBatch() error: %v", err)
	}
	if len(msgs) != 2 || len(repo.created) != 2 {
		t.Fatalf("persisted = %d returned = %d, want 2/2", len(repo.created), len(msgs))
	}

	// 任何一条非法，整批拒绝
	if _, err := s.EnqueueBatch(context.Background(), []*EnqueueRequest{
		{Destination: "chat-1", Content: "a", Category: model.CategoryPayment},
		{Destination: "", Content: "b", Category: model.CategoryPayment},
	}); err == nil {
		t.Fatal("expected batch with invalid entry to be rejected")
	}

	if _, err := s.EnqueueBatch(context.Background(), nil); err == nil {
		t.Fatal("expected empty batch to be rejected")
	}
}

func TestEnqueueFromPayload(t *testing.T) {
	repo := &enqueueStubRepo{}
	s := NewNotifyService(repo)

	payload := []byte(`{"destination":"chat-1","content":"开考提醒","category":"exam_start","priority":"HIGH","tenant_id":"center-a"}`)
	if err := s.EnqueueFromPayload(context.Background(), payload); err != nil {
		t.Fatalf("EnqueueFromPayload() error: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("persisted records = %d, want 1", len(repo.created))
	}
	if repo.created[0].Priority != model.PriorityHigh {
		t.Fatalf("priority = %d, want HIGH", repo.created[0].Priority)
	}

	if err := s.EnqueueFromPayload(context.Background(), []byte("not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
