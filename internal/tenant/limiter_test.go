package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenExceeded(t *testing.T) {
	l := NewLimiter(1, 2)
	assert.NoError(t, l.Allow("zoo"))
	assert.NoError(t, l.Allow("zoo"))
	assert.ErrorIs(t, l.Allow("zoo"), ErrRateLimitExceeded)

	// independent bucket per tenant
	assert.NoError(t, l.Allow("other"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.Allow("zoo"))
	}
	var nilLimiter *Limiter
	assert.NoError(t, nilLimiter.Allow("zoo"))
}

func TestLimiter_MissingTenant(t *testing.T) {
	l := NewLimiter(5, 10)
	assert.ErrorIs(t, l.Allow(""), ErrTenantMissing)
	assert.Equal(t, 10, l.Limit())
}
