package redisclient

import (
	"context"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr(), "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestProductCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	got, err := c.GetProduct(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got, "miss")

	p := &models.Product{ID: 7, Name: "Lamp", Price: decimal.RequireFromString("40.50"), StockCount: 3}
	require.NoError(t, c.SetProduct(ctx, p))
	assert.True(t, mr.Exists("product:7"))
	assert.Equal(t, time.Minute, mr.TTL("product:7"))

	got, err = c.GetProduct(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Lamp", got.Name)
	assert.True(t, p.Price.Equal(got.Price))

	require.NoError(t, c.InvalidateProducts(ctx, 7, 8))
	assert.False(t, mr.Exists("product:7"))

	require.NoError(t, c.InvalidateProducts(ctx), "no ids is a no-op")
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	require.NoError(t, mr.Set("product:9", "{not json"))

	got, err := c.GetProduct(ctx, 9)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("product:9"))
}

func TestCacheExpires(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	require.NoError(t, c.SetProduct(ctx, &models.Product{ID: 1, Name: "A"}))
	mr.FastForward(2 * time.Minute)

	got, err := c.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}
