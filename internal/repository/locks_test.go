package repository

import (
	"testing"
	"time"
)

func waitForWaiters(t *testing.T, k *keyedLocks, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		k.mu.Lock()
		got := len(k.queues[key])
		k.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d holders of %s", n, key)
}

func TestKeyedLocksServeInArrivalOrder(t *testing.T) {
	k := newKeyedLocks()
	unlock := k.Lock("p")

	order := make(chan int, 5)
	for i := 0; i < 5; i++ {
		go func(i int) {
			release := k.Lock("p")
			order <- i
			release()
		}(i)
		waitForWaiters(t, k, "p", i+2)
	}

	unlock()
	for want := 0; want < 5; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("lock served %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for lock holder")
		}
	}

	waitForWaiters(t, k, "p", 0)
}

func TestKeyedLocksIndependentKeys(t *testing.T) {
	k := newKeyedLocks()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		release := k.Lock("b")
		release()
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}
