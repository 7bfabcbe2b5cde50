package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		files []string
		evs   []int
	)
	d := NewDispatcher(
		func(name, _ string) { mu.Lock(); files = append(files, name); mu.Unlock() },
		func(ev Event) { mu.Lock(); evs = append(evs, ev.Current); mu.Unlock() },
		16, nil)

	d.File("a.json", "/out/a.json")
	d.Total(Event{Current: 1})
	d.File("b.json", "/out/b.json")
	d.Total(Event{Current: 2})
	d.Close()

	assert.Equal(t, []string{"a.json", "b.json"}, files)
	assert.Equal(t, []int{1, 2}, evs)
}

func TestDispatcherSurvivesPanics(t *testing.T) {
	calls := 0
	d := NewDispatcher(func(string, string) {
		calls++
		panic("consumer bug")
	}, nil, 4, nil)

	d.File("a", "a")
	d.File("b", "b")
	d.Close()

	assert.Equal(t, 2, calls)
}

func TestDispatcherNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(nil, func(Event) { <-release }, 1, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Total(Event{Current: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submissions blocked on a stuck consumer")
	}
	assert.Positive(t, d.Dropped())

	close(release)
	d.Close()
}

func TestDispatcherKeepsFileEventsUnderBurst(t *testing.T) {
	var (
		mu    sync.Mutex
		files []string
	)
	release := make(chan struct{})
	d := NewDispatcher(
		func(name, _ string) { mu.Lock(); files = append(files, name); mu.Unlock() },
		func(Event) { <-release },
		2, nil)

	var want []string
	for i := 0; i < 20; i++ {
		for j := 0; j < 10; j++ {
			d.Total(Event{Current: i, Stage: StageScanning})
		}
		name := fmt.Sprintf("f%02d.json", i)
		want = append(want, name)
		d.File(name, "/out/"+name)
	}
	assert.Positive(t, d.Dropped())

	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, files)
}

func TestDispatcherIgnoresAfterClose(t *testing.T) {
	d := NewDispatcher(func(string, string) { t.Fatal("delivered after close") }, nil, 4, nil)
	d.Close()
	d.File("late", "late")
	d.Close()
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	assert.NotPanics(t, func() {
		d.File("a", "b")
		d.Total(Event{})
		d.Close()
	})
}

func TestFormatEvent(t *testing.T) {
	line := FormatEvent(Event{Current: 3, Total: 10, Rate: 0.5, Stage: StageSaving, Status: "nature 2023"}, "reef.json")
	assert.Equal(t, "[saving] 3/10 saved (0.50/s) nature 2023 | reef.json", line)

	line = FormatEvent(Event{Current: 3, Stage: StageDone}, "")
	assert.Equal(t, "[done] 3 saved", line)
}
