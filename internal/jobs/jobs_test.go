package jobs

import (
	"context"
	"errors"
	"testing"
)

func TestRunner(t *testing.T) {
	r := NewRunner()

	t.Run("success", func(t *testing.T) {
		id := r.Start("noop", func(ctx context.Context) error { return nil })
		r.Wait()

		job, ok := r.Status(id)
		if !ok {
			t.Fatal("expected job to be tracked")
		}
		if job.State != StateSucceeded {
			t.Errorf("expected succeeded, got %q", job.State)
		}
		if job.Error != "" {
			t.Errorf("expected no error, got %q", job.Error)
		}
	})

	t.Run("failure keeps the error", func(t *testing.T) {
		id := r.Start("explode", func(ctx context.Context) error {
			return errors.New("boom")
		})
		r.Wait()

		job, _ := r.Status(id)
		if job.State != StateFailed {
			t.Errorf("expected failed, got %q", job.State)
		}
		if job.Error != "boom" {
			t.Errorf("expected 'boom', got %q", job.Error)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, ok := r.Status("nope"); ok {
			t.Error("expected ok=false for an unknown job")
		}
	})

	t.Run("distinct ids", func(t *testing.T) {
		a := r.Start("a", func(ctx context.Context) error { return nil })
		b := r.Start("b", func(ctx context.Context) error { return nil })
		r.Wait()
		if a == b {
			t.Error("expected distinct job IDs")
		}
	})
}
