package node

import (
	"testing"

	"boson/internal/testutil"
)

func TestAcquireLockPreventsSecondInstance(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	dir := sb.Root

	l1, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("first acquireLock: %v", err)
	}
	if _, err := acquireLock(dir); err == nil {
		t.Fatal("expected second acquireLock on the same data dir to fail")
	}
	if err := l1.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	l2, err := acquireLock(dir)
	if err != nil {
		t.Fatalf("acquireLock after release: %v", err)
	}
	if err := l2.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}
