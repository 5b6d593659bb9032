package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/arkflow/jobqueue/pkg/models"
)

// Backoff computes the exponential-backoff-with-jitter delay for the n-th
// retry (n starting at 0 for the first retry after the original attempt):
//
//	delay = min(round(b * 2^n * (1 + J)), c)   J ~ Uniform[-0.2, +0.2]
func Backoff(policy models.RetryPolicy, n int) time.Duration {
	jitter := 1 + (rand.Float64()*0.4 - 0.2)
	raw := policy.BaseDelaySeconds * math.Pow(2, float64(n)) * jitter
	seconds := math.Round(raw)
	if seconds > policy.CapSeconds {
		seconds = policy.CapSeconds
	}
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}
