package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"not found", status.Error(codes.NotFound, "x"), FailureNotFound},
		{"disabled", status.Error(codes.FailedPrecondition, "x"), FailureNotFound},
		{"permission", status.Error(codes.PermissionDenied, "x"), FailureNotFound},
		{"grpc deadline", status.Error(codes.DeadlineExceeded, "x"), FailureTimeout},
		{"context deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), FailureTimeout},
		{"invalid argument", status.Error(codes.InvalidArgument, "x"), FailureMalformedInput},
		{"unavailable", status.Error(codes.Unavailable, "x"), FailureUnavailable},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "x"), FailureUnavailable},
		{"plain", errors.New("boom"), FailureUnavailable},
		{"explicit", NewFailure(FailureMalformedInput, "p", errors.New("refused")), FailureMalformedInput},
		{"wrapped explicit", fmt.Errorf("outer: %w", NewFailure(FailureNotFound, "p", nil)), FailureNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestAsFailureFillsProcessorID(t *testing.T) {
	f := asFailure(NewFailure(FailureTimeout, "", errors.New("slow")), "docai-eu")
	assert.Equal(t, "docai-eu", f.ProcessorID)
	assert.Equal(t, FailureTimeout, f.Kind)

	f = asFailure(status.Error(codes.NotFound, "x"), "docai-eu")
	assert.Equal(t, FailureNotFound, f.Kind)
	assert.Contains(t, f.Error(), "docai-eu")
}

func TestResourceName(t *testing.T) {
	d := Descriptor{ID: "abc123", ProjectID: "lab-prod", Location: "eu"}
	assert.Equal(t, "projects/lab-prod/locations/eu/processors/abc123", d.ResourceName())
}

func TestAvailabilityWindow(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewAvailabilityCache(5*time.Minute, "p")

	assert.False(t, c.IsDown("p", t0))
	c.MarkDown("p", t0)
	assert.True(t, c.IsDown("p", t0.Add(4*time.Minute)))
	assert.False(t, c.IsDown("p", t0.Add(5*time.Minute)))

	since, down := c.DownSince("p", t0.Add(time.Minute))
	assert.True(t, down)
	assert.True(t, since.Equal(t0))

	c.MarkUp("p")
	assert.False(t, c.IsDown("p", t0.Add(time.Second)))
	assert.False(t, c.IsDown("unknown", t0))
}

func TestTryProbeSingleWinner(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewAvailabilityCache(5*time.Minute, "p")
	c.MarkDown("p", t0)

	assert.False(t, c.TryProbe("p", t0.Add(30*time.Second), time.Minute))

	probeAt := t0.Add(time.Minute)
	var winners atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryProbe("p", probeAt, time.Minute) {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
	assert.False(t, c.TryProbe("unknown", probeAt, time.Minute))
}
