package requestctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetTenantID_and_TenantID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, TenantID(ctx))

	ctx2 := SetTenantID(ctx, "zoo-north")
	assert.Equal(t, "zoo-north", TenantID(ctx2))
	assert.Empty(t, TenantID(ctx))

	ctx3 := SetTenantID(ctx2, "zoo-south")
	assert.Equal(t, "zoo-south", TenantID(ctx3))
	assert.Equal(t, "zoo-north", TenantID(ctx2))
}

func TestRequestID(t *testing.T) {
	ctx := SetRequestID(context.Background(), "req-1")
	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Empty(t, TenantID(ctx))
}

func TestActor(t *testing.T) {
	assert.Equal(t, "system", Actor(context.Background()))
	assert.Equal(t, "zoo-north", Actor(SetTenantID(context.Background(), "zoo-north")))
}
