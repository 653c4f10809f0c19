package modelop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflightRegistry_ClaimAndRelease(t *testing.T) {
	reg := NewInflightRegistry()
	assert.True(t, reg.Claim("req-1"))
	assert.False(t, reg.Claim("req-1"))

	reg.Release("req-1")
	assert.True(t, reg.Claim("req-1"))
}

func TestInflightRegistry_ReleaseUnknownIsNoop(t *testing.T) {
	reg := NewInflightRegistry()
	assert.NotPanics(t, func() { reg.Release("never-claimed") })
}

func TestInflightRegistry_ConcurrentClaimMutualExclusion(t *testing.T) {
	reg := NewInflightRegistry()
	const attempts = 100

	var successCount int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.Claim("shared-id") {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount)
}
