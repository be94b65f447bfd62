package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestScheduler_Register(t *testing.T) {
	noop := func(ctx context.Context) error { return nil }

	tests := []struct {
		name    string
		task    *Task
		wantErr bool
	}{
		{"valid", Every("a", time.Minute, noop), false},
		{"duplicate", Every("a", time.Minute, noop), true},
		{"empty ID", Every("", time.Minute, noop), true},
		{"nil handler", Every("b", time.Minute, nil), true},
		{"zero interval", Every("c", 0, noop), true},
	}

	s := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Register(tt.task)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	task := s.tasks["a"]
	if task.Timeout != time.Minute {
		t.Errorf("default timeout = %v, want the interval", task.Timeout)
	}
}

func TestScheduler_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	var ok, failing atomic.Int64
	s := New()
	s.Register(Every("ok", 5*time.Millisecond, func(ctx context.Context) error {
		ok.Add(1)
		return nil
	}))
	s.Register(Every("failing", 5*time.Millisecond, func(ctx context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for (ok.Load() < 2 || failing.Load() < 2) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if ok.Load() < 2 || failing.Load() < 2 {
		t.Fatalf("runs = %d/%d, want at least 2 each", ok.Load(), failing.Load())
	}

	stats := s.Stats()
	if len(stats) != 2 || stats[0].ID != "failing" || stats[1].ID != "ok" {
		t.Fatalf("Stats() = %+v", stats)
	}
	if stats[0].ErrorCount == 0 || stats[0].LastError != "boom" {
		t.Errorf("failing stats = %+v", stats[0])
	}
	if stats[1].ErrorCount != 0 || stats[1].LastRun == nil {
		t.Errorf("ok stats = %+v", stats[1])
	}

	if err := s.Register(Every("late", time.Minute, func(context.Context) error { return nil })); err == nil {
		t.Error("Register after Run should fail")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	var runs int
	s := New()
	s.Register(Every("job", time.Hour, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("handler context has no deadline")
		}
		runs++
		return nil
	}))

	if err := s.RunNow(context.Background(), "job"); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	if err := s.RunNow(context.Background(), "missing"); err == nil {
		t.Error("RunNow(missing) should fail")
	}
}
