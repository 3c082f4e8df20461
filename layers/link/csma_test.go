package link

import (
	"context"
	"testing"
	"time"

	"github.com/matheuscscp/link-chat/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func testCarrier(conf CSMAConfig) *carrierSense {
	return newCarrierSense(conf, prometheus.Labels{"node_name": "csma-test"})
}

func TestCarrierAcquireWhenFree(t *testing.T) {
	c := testCarrier(CSMAConfig{})
	require.NoError(t, c.acquire(context.Background()))
	c.release()
	require.NoError(t, c.acquire(context.Background()))
	c.release()
}

func TestCarrierBusyExhaustsAttempts(t *testing.T) {
	c := testCarrier(CSMAConfig{
		SlotTime: config.Duration(10 * time.Microsecond),
	})
	require.NoError(t, c.acquire(context.Background()))

	// held elsewhere: a second sender must fail after bounded retries
	err := c.acquire(context.Background())
	require.ErrorIs(t, err, ErrCarrierBusy)
	c.release()
}

func TestCarrierAcquireObservesContext(t *testing.T) {
	c := testCarrier(CSMAConfig{
		SlotTime: config.Duration(100 * time.Millisecond),
	})
	require.NoError(t, c.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	c.release()
}

func TestBackoffBounds(t *testing.T) {
	slot := 512 * time.Microsecond
	c := testCarrier(CSMAConfig{})
	for attempt := 1; attempt <= 20; attempt++ {
		k := attempt
		if k > defaultMaxBackoffExponent {
			k = defaultMaxBackoffExponent
		}
		maxWait := time.Duration((1<<k)-1) * slot
		for i := 0; i < 32; i++ {
			wait := c.backoff(attempt)
			require.GreaterOrEqual(t, wait, time.Duration(0))
			require.LessOrEqual(t, wait, maxWait)
		}
	}
}

func TestBackoffAttemptsAreBounded(t *testing.T) {
	c := testCarrier(CSMAConfig{
		SlotTime: config.Duration(time.Microsecond),
	})
	require.NoError(t, c.acquire(context.Background()))

	// with the carrier held, acquire runs exactly maxAttempts() senses
	start := time.Now()
	err := c.acquire(context.Background())
	elapsed := time.Since(start)
	require.ErrorIs(t, err, ErrCarrierBusy)

	// 16 backoffs of at most 1023 slots of 1us each
	require.Less(t, elapsed, time.Second)
	c.release()
}
