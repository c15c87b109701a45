package jobs

import "time"

// SetClock overrides the store clock for deterministic ordering in tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }
