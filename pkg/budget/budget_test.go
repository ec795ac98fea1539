package budget

import (
	"context"
	"testing"
	"time"
)

func TestBudget_Unlimited(t *testing.T) {
	b := Unlimited()

	if b.Exceeded() {
		t.Error("unlimited budget should never be exceeded")
	}
	if b.Remaining() != -1 {
		t.Errorf("Remaining() = %v, want -1", b.Remaining())
	}
}

func TestBudget_Exceeded(t *testing.T) {
	b := Start(time.Minute)
	b.now = func() time.Time { return b.started.Add(61 * time.Second) }

	if !b.Exceeded() {
		t.Error("budget should be exceeded after 61s of 60s")
	}
	if b.Remaining() != 0 {
		t.Errorf("Remaining() = %v, want 0", b.Remaining())
	}
}

func TestBudget_Remaining(t *testing.T) {
	b := Start(time.Minute)
	b.now = func() time.Time { return b.started.Add(20 * time.Second) }

	if b.Exceeded() {
		t.Error("budget should not be exceeded after 20s of 60s")
	}
	if got := b.Remaining(); got != 40*time.Second {
		t.Errorf("Remaining() = %v, want 40s", got)
	}
	if got := b.Elapsed(); got != 20*time.Second {
		t.Errorf("Elapsed() = %v, want 20s", got)
	}
}

func TestBudget_Nil(t *testing.T) {
	var b *Budget

	if b.Exceeded() || b.Elapsed() != 0 || b.Max() != 0 {
		t.Error("nil budget should behave as unlimited")
	}
}

func TestContext(t *testing.T) {
	b := Start(time.Minute)
	ctx := WithContext(context.Background(), b)

	if got := FromContext(ctx); got != b {
		t.Errorf("FromContext() = %p, want %p", got, b)
	}
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext(empty) = %v, want nil", got)
	}
}
