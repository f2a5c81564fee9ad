package kv

// CheckInvariantsForTesting verifies the index against the committed buffer.
// It loads the store first if needed.
func CheckInvariantsForTesting(s *Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.e.load(); err != nil {
		return err
	}

	return s.e.checkInvariants()
}

// PositionsForTesting returns the buffer offset of every entry in index order.
func PositionsForTesting(s *Store) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]int, 0, len(s.e.entries))
	for _, ent := range s.e.entries {
		positions = append(positions, ent.pos)
	}

	return positions
}

// LoadedForTesting reports whether the store has adopted a buffer.
func LoadedForTesting(s *Store) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.e.loaded
}
