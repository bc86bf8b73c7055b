package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer_PromotesAfterQuietWindow(t *testing.T) {
	// Given: a 2s debouncer and an event at t0
	d := NewDebouncer(2 * time.Second)
	t0 := time.Unix(1000, 0)
	d.Observe("/docs/a.pdf", t0)

	// Then: nothing is due before the window, the path is due at the window
	assert.Empty(t, d.Due(t0.Add(1999*time.Millisecond)))
	assert.Equal(t, []string{"/docs/a.pdf"}, d.Due(t0.Add(2*time.Second)))
	assert.Zero(t, d.Len())
}

func TestDebouncer_RefreshPostponesPromotion(t *testing.T) {
	// Given: events at t0 and t0+1.5s for the same path
	d := NewDebouncer(2 * time.Second)
	t0 := time.Unix(1000, 0)
	d.Observe("/docs/a.pdf", t0)
	d.Observe("/docs/a.pdf", t0.Add(1500*time.Millisecond))

	// When: sweeping at t0+2s and t0+3.5s
	early := d.Due(t0.Add(2 * time.Second))
	late := d.Due(t0.Add(3500 * time.Millisecond))

	// Then: the path is promoted once, at the later sweep
	assert.Empty(t, early)
	assert.Equal(t, []string{"/docs/a.pdf"}, late)
}

func TestDebouncer_CoalescesBurstIntoOneEntry(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Unix(1000, 0)

	for i := 0; i < 50; i++ {
		d.Observe("/docs/a.pdf", t0.Add(time.Duration(i)*10*time.Millisecond))
	}

	assert.Equal(t, 1, d.Len())
	assert.Len(t, d.Due(t0.Add(10*time.Second)), 1)
	assert.Empty(t, d.Due(t0.Add(20*time.Second)))
}

func TestDebouncer_IndependentPaths(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Unix(1000, 0)
	d.Observe("/b.pdf", t0)
	d.Observe("/a.pdf", t0)
	d.Observe("/c.pdf", t0.Add(900*time.Millisecond))

	assert.Equal(t, []string{"/a.pdf", "/b.pdf"}, d.Due(t0.Add(time.Second)))
	assert.Equal(t, 1, d.Len())
}
