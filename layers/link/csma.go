package link

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/matheuscscp/link-chat/config"
	pkgtime "github.com/matheuscscp/link-chat/pkg/time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	// CSMAConfig contains the configs for the carrier-sense transmit
	// coordinator. Zero values fall back to the Ethernet-flavored
	// defaults (512us slot, 16 attempts, exponent capped at 10).
	CSMAConfig struct {
		SlotTime           config.Duration `yaml:"slotTime"`
		MaxAttempts        int             `yaml:"maxAttempts"`
		MaxBackoffExponent int             `yaml:"maxBackoffExponent"`
	}

	// carrierSense coordinates in-process senders: a simulated busy
	// flag sensed under a mutex, with binary exponential backoff
	// between attempts. It models CSMA but does not physically sense
	// the medium.
	carrierSense struct {
		mu       sync.Mutex
		busy     bool
		conf     *CSMAConfig
		backoffs prometheus.Counter
		failures prometheus.Counter
	}
)

const (
	defaultSlotTime           = 512 * time.Microsecond
	defaultMaxAttempts        = 16
	defaultMaxBackoffExponent = 10
)

// ErrCarrierBusy is returned when the carrier stayed busy after the
// maximum number of backoff attempts.
var ErrCarrierBusy = errors.New("carrier busy after maximum backoff attempts")

var (
	csmaBackoffs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "csma_backoffs",
		Help:      "Total number of CSMA backoff sleeps.",
	}, transceiverMetricLabels)
	csmaFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "csma_failures",
		Help:      "Total number of sends that exhausted all CSMA attempts.",
	}, transceiverMetricLabels)
)

func newCarrierSense(conf CSMAConfig, metricLabels prometheus.Labels) *carrierSense {
	return &carrierSense{
		conf:     &conf,
		backoffs: csmaBackoffs.With(metricLabels),
		failures: csmaFailures.With(metricLabels),
	}
}

func (c *carrierSense) slotTime() time.Duration {
	return c.conf.SlotTime.DurationOrDefault(defaultSlotTime)
}

func (c *carrierSense) maxAttempts() int {
	if c.conf.MaxAttempts <= 0 {
		return defaultMaxAttempts
	}
	return c.conf.MaxAttempts
}

func (c *carrierSense) maxBackoffExponent() int {
	if c.conf.MaxBackoffExponent <= 0 {
		return defaultMaxBackoffExponent
	}
	return c.conf.MaxBackoffExponent
}

// acquire senses the carrier and claims it, backing off exponentially
// while busy. On success the caller owns the carrier and must call
// release after transmitting.
func (c *carrierSense) acquire(ctx context.Context) error {
	maxAttempts := c.maxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c.mu.Lock()
		if !c.busy {
			c.busy = true
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		c.backoffs.Inc()
		timer, stop := pkgtime.NewTimer(c.backoff(attempt))
		select {
		case <-ctx.Done():
			stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	c.failures.Inc()
	return ErrCarrierBusy
}

// release frees the carrier for the next sender.
func (c *carrierSense) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// backoff draws a random wait from [0, 2^k - 1] slots, k capped by the
// configured exponent.
func (c *carrierSense) backoff(attempt int) time.Duration {
	k := attempt
	if maxExp := c.maxBackoffExponent(); k > maxExp {
		k = maxExp
	}
	slots := rand.Intn(1 << k)
	return time.Duration(slots) * c.slotTime()
}
