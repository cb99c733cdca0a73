package cache

import (
    "context"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestNilClientIsAlwaysAMiss(t *testing.T) {
    c := NewRedisCache(nil, "")
    ctx := context.Background()
    assert.False(t, c.Enabled())
    assert.Equal(t, "alloc:scarcity:r1", c.key("scarcity:r1"))

    require.NoError(t, c.SetJSON(ctx, "scarcity:r1", map[string]float64{"t1": 0.5}, time.Minute))
    var out map[string]float64
    hit, err := c.GetJSON(ctx, "scarcity:r1", &out)
    require.NoError(t, err)
    assert.False(t, hit)
    assert.Nil(t, out)
    assert.NoError(t, c.Invalidate(ctx, "scarcity:r1"))
}
