// Package retry implements RC: exponential-backoff-and-quarantine decisions
// for failed job attempts.
package retry

import "github.com/arkflow/jobqueue/pkg/models"

// PolicyTable maps job type to its RetryPolicy. Unregistered types fall
// back to Default.
type PolicyTable struct {
	policies map[string]models.RetryPolicy
	Default  models.RetryPolicy
}

// NewPolicyTable seeds the table with the reference policies for
// email/video/scrape job types, open for callers to register additional
// types at process start.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{
		policies: map[string]models.RetryPolicy{
			"email":  {BaseDelaySeconds: 2, CapSeconds: 300, MaxRetries: 3},
			"video":  {BaseDelaySeconds: 5, CapSeconds: 3600, MaxRetries: 5},
			"scrape": {BaseDelaySeconds: 10, CapSeconds: 600, MaxRetries: 3},
		},
		Default: models.RetryPolicy{BaseDelaySeconds: 2, CapSeconds: 300, MaxRetries: 3},
	}
}

// Register adds or overrides the policy for a job type.
func (t *PolicyTable) Register(jobType string, policy models.RetryPolicy) {
	t.policies[jobType] = policy
}

// Lookup returns the policy for jobType, falling back to Default.
func (t *PolicyTable) Lookup(jobType string) models.RetryPolicy {
	if p, ok := t.policies[jobType]; ok {
		return p
	}
	return t.Default
}
