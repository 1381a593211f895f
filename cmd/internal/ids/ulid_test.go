package ids

import (
	"context"
	"testing"
	"time"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	id, err := NewULID(time.Time{})
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 || !IsULID(id) {
		t.Fatalf("unexpected ulid %q", id)
	}
	if IsULID("not-a-ulid") {
		t.Fatalf("garbage accepted as ulid")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()

	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	ctx := WithRequestID(context.Background(), "01J00000000000000000000000")
	if got := RequestID(ctx); got != "01J00000000000000000000000" {
		t.Fatalf("RequestID=%q", got)
	}
}
