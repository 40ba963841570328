package inverter

// Snapshot holds the last validated reply per alias, in sequence order.
// Values are overwritten in place the moment a reply validates; a failed
// reply never touches a stored value.
type Snapshot struct {
	entries []snapshotEntry
}

type snapshotEntry struct {
	alias string
	wire  string
	value string
}

// Set stores value under alias, remembering the wire command that produced
// it so the JSON builder can optionally emit a raw-command key as well.
func (s *Snapshot) Set(alias, wire, value string) {
	for i := range s.entries {
		if s.entries[i].alias == alias {
			s.entries[i].wire = wire
			s.entries[i].value = value
			return
		}
	}
	s.entries = append(s.entries, snapshotEntry{alias: alias, wire: wire, value: value})
}

// Get returns the stored value for alias.
func (s *Snapshot) Get(alias string) (string, bool) {
	for i := range s.entries {
		if s.entries[i].alias == alias {
			return s.entries[i].value, true
		}
	}
	return "", false
}

// Len returns the number of stored entries.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entry returns the i-th entry in insertion order.
func (s *Snapshot) Entry(i int) (alias, wire, value string) {
	e := &s.entries[i]
	return e.alias, e.wire, e.value
}

// Reset drops all entries.
func (s *Snapshot) Reset() { s.entries = s.entries[:0] }
