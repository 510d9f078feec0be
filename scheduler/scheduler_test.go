package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestEveryRunsJob(t *testing.T) {
	s := New()
	defer s.Stop(context.Background())

	var runs atomic.Int32
	done := make(chan struct{})
	if err := s.Every("tick", "@every 1s", func() {
		if runs.Add(1) == 1 {
			close(done)
		}
	}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestEveryRejectsBadSpec(t *testing.T) {
	s := New()
	defer s.Stop(context.Background())

	if err := s.Every("bad", "every now and then", func() {}); err == nil {
		t.Fatal("Every accepted an invalid spec")
	}
}
