package session

import (
	"math"
	"math/rand"
	"time"
)

// RandomSource provides random values for jitter calculation. Allows
// injection of a deterministic source for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

// defaultRandomSource uses math/rand for production.
type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source, using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// BackoffCalculator computes MRP retransmission backoff times.
//
// The backoff formula from Spec Section 4.12.2.1:
//
//	mrpBackoffTime = i * MRP_BACKOFF_BASE^(max(0, n-MRP_BACKOFF_THRESHOLD))
//	                   * (1.0 + random(0,1) * MRP_BACKOFF_JITTER)
//
// Where:
//   - i = base retry interval (IDLE or ACTIVE) * MRP_BACKOFF_MARGIN
//   - n = number of send attempts before current one (0 for initial)
//
// This is a two-phase scheme: linear backoff initially (for quick recovery
// from transient drops), transitioning to exponential backoff after the
// threshold (for convergence during congestion).
type BackoffCalculator struct {
	random RandomSource
}

// NewBackoffCalculator creates a backoff calculator using random for jitter.
// A nil random defaults to DefaultRandomSource.
func NewBackoffCalculator(random RandomSource) *BackoffCalculator {
	if random == nil {
		random = DefaultRandomSource
	}
	return &BackoffCalculator{random: random}
}

// Calculate computes the backoff time for a retransmission attempt.
//
// baseInterval is the session's idle or active interval (session.Params);
// attemptNumber is the number of previous send attempts (0 for the initial
// transmission).
func (b *BackoffCalculator) Calculate(baseInterval time.Duration, attemptNumber int) time.Duration {
	i := float64(baseInterval) * MRPBackoffMargin

	exponent := attemptNumber - MRPBackoffThreshold
	if exponent < 0 {
		exponent = 0
	}
	expFactor := math.Pow(MRPBackoffBase, float64(exponent))

	jitterFactor := 1.0 + b.random.Float64()*MRPBackoffJitter

	return time.Duration(i * expFactor * jitterFactor)
}

// CalculateMin computes the minimum backoff time (no jitter).
func (b *BackoffCalculator) CalculateMin(baseInterval time.Duration, attemptNumber int) time.Duration {
	i := float64(baseInterval) * MRPBackoffMargin

	exponent := attemptNumber - MRPBackoffThreshold
	if exponent < 0 {
		exponent = 0
	}
	expFactor := math.Pow(MRPBackoffBase, float64(exponent))

	return time.Duration(i * expFactor)
}

// CalculateMax computes the maximum backoff time (full jitter).
func (b *BackoffCalculator) CalculateMax(baseInterval time.Duration, attemptNumber int) time.Duration {
	i := float64(baseInterval) * MRPBackoffMargin

	exponent := attemptNumber - MRPBackoffThreshold
	if exponent < 0 {
		exponent = 0
	}
	expFactor := math.Pow(MRPBackoffBase, float64(exponent))

	return time.Duration(i * expFactor * (1.0 + MRPBackoffJitter))
}
