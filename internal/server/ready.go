package server

import (
	"context"
	"fmt"
	"sort"
)

// Checks is a ReadinessChecker built from named checks. All must pass.
type Checks map[string]func(ctx context.Context) error

// CheckReadiness runs the checks in name order and returns the first failure.
func (c Checks) CheckReadiness(ctx context.Context) error {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c[name](ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
