package core

import (
	"sync"
	"testing"

	"github.com/opencue/rqd/cmn/cos"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_InsertDuplicateFails(t *testing.T) {
	c := NewCache()
	rf := &RunningFrame{Request: &FrameRequest{FrameID: "F1"}}
	require.NoError(t, c.Insert("F1", rf))

	err := c.Insert("F1", rf)
	require.Error(t, err)
	assert.Equal(t, cos.KindDuplicateFrame, cos.KindOf(err))
}

func TestCache_DeleteIsIdempotent(t *testing.T) {
	c := NewCache()
	c.Delete("nonexistent") // must not panic
	rf := &RunningFrame{Request: &FrameRequest{FrameID: "F1"}}
	require.NoError(t, c.Insert("F1", rf))
	c.Delete("F1")
	c.Delete("F1")
	assert.Equal(t, 0, c.Len())
}

func TestCache_GetMissingReturnsNil(t *testing.T) {
	c := NewCache()
	assert.Nil(t, c.Get("missing"))
}

// At-most-one-per-frame-id under concurrency (spec §8).
func TestCache_ConcurrentInsertSameID(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Insert("F1", &RunningFrame{Request: &FrameRequest{FrameID: "F1"}})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, c.Len())
}
