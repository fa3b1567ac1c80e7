package manifest

import "fmt"

// Validate checks the manifest for structural correctness.
func Validate(m *Manifest) []error {
	var errs []error

	if m.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", m.Version))
	}
	if m.Root == "" {
		errs = append(errs, fmt.Errorf("root is required"))
	}
	if m.Logs.Bot == "" {
		errs = append(errs, fmt.Errorf("logs.bot is required"))
	}
	if m.Logs.Audit == "" {
		errs = append(errs, fmt.Errorf("logs.audit is required"))
	}
	if m.Poll.IntervalSec < 0 {
		errs = append(errs, fmt.Errorf("poll.interval_sec must not be negative, got %d", m.Poll.IntervalSec))
	}

	for name, b := range m.Bounties {
		if b.Command == "" {
			errs = append(errs, fmt.Errorf("bounty %q: command is required", name))
		}
		if b.Reward < 0 {
			errs = append(errs, fmt.Errorf("bounty %q: reward must not be negative", name))
		}
	}

	return errs
}
