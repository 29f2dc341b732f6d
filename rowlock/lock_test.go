package rowlock

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireFullNoContention(t *testing.T) {
	m := NewManager()
	l, preexisting := m.AcquireFull(uint64(1), []string{"a", "b"})
	if len(preexisting) != 0 {
		t.Fatalf("expected no preexisting locks, got %d", len(preexisting))
	}
	m.Release(uint64(1), l)

	if len(m.rows) != 0 {
		t.Fatalf("expected lock map entry to be removed after release")
	}
}

func TestAcquireFullMergesAndReportsPreexisting(t *testing.T) {
	m := NewManager()
	first, _ := m.AcquireFull(uint64(1), []string{"a", "b"})

	second, preexisting := m.AcquireFull(uint64(1), []string{"a", "b"})
	if len(preexisting) != 1 || preexisting[0] != first {
		t.Fatalf("expected to observe the first lock, got %+v", preexisting)
	}
	m.Release(uint64(1), first)
	m.Release(uint64(1), second)
}

func TestAcquireCustomOnlyLocksNamedColumns(t *testing.T) {
	m := NewManager()
	a, _ := m.AcquireCustom(uint64(1), []string{"a"})

	// a different column group should not see the lock on "a"
	b, preexisting := m.AcquireCustom(uint64(1), []string{"b"})
	if len(preexisting) != 0 {
		t.Fatalf("expected column b to be unlocked, got %+v", preexisting)
	}

	// re-acquiring "a" observes the first holder
	_, preexisting = m.AcquireCustom(uint64(1), []string{"a"})
	if len(preexisting) != 1 || preexisting[0] != a {
		t.Fatalf("expected to observe the existing lock on a, got %+v", preexisting)
	}

	m.Release(uint64(1), a)
	m.Release(uint64(1), b)
}

func TestCustomLockObservesPriorFullLock(t *testing.T) {
	m := NewManager()
	full, _ := m.AcquireFull(uint64(1), []string{"a", "b", "c"})

	_, preexisting := m.AcquireCustom(uint64(1), []string{"b"})
	if len(preexisting) != 1 || preexisting[0] != full {
		t.Fatalf("expected the full lock to be observed, got %+v", preexisting)
	}
	m.Release(uint64(1), full)
}

func TestWaitBlocksUntilUnlock(t *testing.T) {
	m := NewManager()
	l, _ := m.AcquireFull(uint64(7), []string{"a"})

	var wg sync.WaitGroup
	woke := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Wait()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatalf("waiter woke before unlock")
	case <-time.After(20 * time.Millisecond):
	}

	m.Release(uint64(7), l)
	wg.Wait()
}

func TestReleaseKeepsRowLockedByOtherHolder(t *testing.T) {
	m := NewManager()
	a, _ := m.AcquireCustom(uint64(3), []string{"a"})
	b, _ := m.AcquireCustom(uint64(3), []string{"b"})

	m.Release(uint64(3), a)
	if _, ok := m.rows[uint64(3)]; !ok {
		t.Fatalf("expected row lock to survive while column b is still held")
	}
	m.Release(uint64(3), b)
	if _, ok := m.rows[uint64(3)]; ok {
		t.Fatalf("expected row lock entry to be removed once unreferenced")
	}
}
