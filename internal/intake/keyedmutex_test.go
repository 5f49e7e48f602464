package intake

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	var km KeyedMutex
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("same")
			defer unlock()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxActive.Load())
	}
	if km.Len() != 0 {
		t.Fatalf("expected entries released, got %d", km.Len())
	}
}

func TestKeyedMutex_DistinctKeysParallel(t *testing.T) {
	var km KeyedMutex
	unlockA := km.Lock("a")

	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked by a")
	}
	unlockA()
}
