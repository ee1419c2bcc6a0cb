package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestJoinContexts(t *testing.T) {
	a, cancelA := context.WithCancel(context.Background())
	b := context.Background()
	ctx, cancel := joinContexts(a, b)
	defer cancel()
	cancelA()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("joined context not canceled by first parent")
	}

	ctx, cancel = joinContexts(context.Background(), context.Background())
	cancel()
	if ctx.Err() == nil {
		t.Fatalf("cancel func did not cancel joined context")
	}
}

func TestRequestContext_Timeout(t *testing.T) {
	SetGenerateTimeout(10 * time.Millisecond)
	t.Cleanup(func() { SetGenerateTimeout(0) })
	ctx, cancel := requestContext(context.Background())
	defer cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatalf("timeout not applied")
	}
	if ctx.Err() != context.DeadlineExceeded {
		t.Fatalf("err=%v", ctx.Err())
	}
}

func TestSetters(t *testing.T) {
	SetMaxBodyBytes(10)
	if maxBodyBytes != 10 {
		t.Fatalf("max body=%d", maxBodyBytes)
	}
	SetMaxBodyBytes(-1)
	if maxBodyBytes != 1<<20 {
		t.Fatalf("max body reset=%d", maxBodyBytes)
	}
	old := defaultPrompt
	SetDefaultPrompt("")
	if defaultPrompt != old {
		t.Fatalf("empty prompt must not replace default")
	}
	SetDefaultPrompt("hello")
	t.Cleanup(func() { SetDefaultPrompt(old) })
	if defaultPrompt != "hello" {
		t.Fatalf("prompt=%q", defaultPrompt)
	}
	SetGenerateTimeout(-time.Second)
	if generateTimeout != 0 {
		t.Fatalf("negative timeout not clamped")
	}
}
