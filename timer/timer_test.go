package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManager_FiresScheduledCallback(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	fired := make(chan struct{})
	m.AddTimer(10*time.Millisecond, 0, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
}

func TestManager_RemoveTimerCancels(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var fired int32
	id := m.AddTimer(300*time.Millisecond, 0, func() { atomic.AddInt32(&fired, 1) })
	m.RemoveTimer(id)

	time.Sleep(600 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("removed timer still fired")
	}
	if got := m.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestManager_IntervalRepeats(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	var fired int32
	m.AddTimer(10*time.Millisecond, 50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(&fired) >= 3 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("interval task fired %d times, want at least 3", atomic.LoadInt32(&fired))
}

// One sweep can find far more due tasks than any channel buffer would hold;
// the scheduler must fire them all and stay responsive to AddTimer.
func TestManager_ManyDueTasksDoNotWedgeTheScheduler(t *testing.T) {
	m := NewManager()
	defer m.Stop()

	const tasks = 1500
	var wg sync.WaitGroup
	wg.Add(tasks)
	for i := 0; i < tasks; i++ {
		m.AddTimer(time.Millisecond, 0, wg.Done)
	}

	allDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(allDone)
	}()
	select {
	case <-allDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler wedged: %d tasks still pending", m.Pending())
	}

	// The loop must still be scheduling after the burst.
	fired := make(chan struct{})
	m.AddTimer(10*time.Millisecond, 0, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("AddTimer after the burst never fired")
	}
}
