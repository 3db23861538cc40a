package resource

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerJobSlots(t *testing.T) {
	c := NewController(Config{MaxMaintenanceJobs: 1})

	require.True(t, c.TryAcquireJob())
	assert.False(t, c.TryAcquireJob())

	c.ReleaseJob()
	assert.True(t, c.TryAcquireJob())
	c.ReleaseJob()
}

func TestControllerAcquireBlockingHonorsContext(t *testing.T) {
	c := NewController(Config{MaxMaintenanceJobs: 1})
	require.NoError(t, c.AcquireJob(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.AcquireJob(ctx))
	c.ReleaseJob()
}

func TestNilControllerIsUnlimited(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireJob(context.Background()))
	assert.True(t, c.TryAcquireJob())
	c.ReleaseJob()
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20))
}

func TestRateLimitedWriterPassesThrough(t *testing.T) {
	c := NewController(Config{MaxMaintenanceJobs: 1})
	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, c)
	n, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", buf.String())
}

// A single write larger than the limiter's burst must succeed; WaitN
// rejects over-burst requests, so AcquireIO splits them.
func TestAcquireIOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	require.NoError(t, c.AcquireIO(context.Background(), (1<<20)+512))
}

func TestRateLimitedWriterLargerThanBurst(t *testing.T) {
	c := NewController(Config{MaxMaintenanceJobs: 1, IOLimitBytesPerSec: 1 << 20})
	var buf bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &buf, c)

	payload := make([]byte, (1<<20)+1)
	n, err := w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, len(payload), buf.Len())
}
