package engine

import "fmt"

// intrinsicSteps is charged once per outer call, so that even a call that
// touches no list has a non-zero cost.
const intrinsicSteps = 10

// meter counts the work a call performs: one step per list node read and
// one per fill. A zero limit never runs out.
type meter struct {
	used  uint64
	limit uint64
}

func (m *meter) charge(n uint64) error {
	m.used += n
	if m.limit != 0 && m.used > m.limit {
		return fmt.Errorf("used %d of %d: %w", m.used, m.limit, ErrOutOfSteps)
	}
	return nil
}
