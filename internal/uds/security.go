package uds

import "time"

// SecurityBackoff tracks failed security-access attempts for one module
// and computes the delay before the next attempt is allowed, per
// spec.md §4.4 ("back off per 0x37 or per an explicit attempt counter")
// and the curve decision recorded in SPEC_FULL.md §E.
type SecurityBackoff struct {
	attempts int
}

// maxBackoff caps the delay so a flaky module never wedges the
// orchestrator indefinitely.
const maxBackoff = 30 * time.Second

// Fail records a failed attempt (NRC 0x35 invalid key) and returns the
// delay to wait before retrying: 1s, 2s, 4s, ... capped at 30s.
func (b *SecurityBackoff) Fail() time.Duration {
	b.attempts++
	d := time.Second << uint(b.attempts-1)
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}

// Reset clears the attempt counter after a successful unlock.
func (b *SecurityBackoff) Reset() { b.attempts = 0 }

// Attempts returns the number of consecutive failures recorded so far.
func (b *SecurityBackoff) Attempts() int { return b.attempts }
