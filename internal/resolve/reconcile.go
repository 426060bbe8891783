// Package resolve decides target identities for migrating rows: which
// existing target row (if any) a source row corresponds to, and what target
// id a legacy reference points at. Nothing in this package touches the
// database; callers load the snapshots it works over.
package resolve

// KeyIndex reconciles natural or primary keys against a snapshot of the keys
// already present in a target table. As new keys are assigned they are
// recorded immediately, so two source rows that derive the same key within
// one run can never mint two different target ids.
type KeyIndex struct {
	ids map[string]string
}

// NewKeyIndex wraps a snapshot of existing key -> target id pairs. The map
// is owned by the index after the call.
func NewKeyIndex(existing map[string]string) *KeyIndex {
	if existing == nil {
		existing = make(map[string]string)
	}
	return &KeyIndex{ids: existing}
}

// Resolve returns the target id for the given key. When the key is already
// known the existing id is reused and existed is true (an update); otherwise
// mint is invoked for a fresh id, the assignment is recorded, and existed is
// false (an insert).
func (ki *KeyIndex) Resolve(key string, mint func() string) (id string, existed bool) {
	if id, ok := ki.ids[key]; ok {
		return id, true
	}
	id = mint()
	ki.ids[key] = id
	return id, false
}

// Lookup reports the id currently assigned to key, if any.
func (ki *KeyIndex) Lookup(key string) (string, bool) {
	id, ok := ki.ids[key]
	return id, ok
}

// Len returns the number of known keys.
func (ki *KeyIndex) Len() int {
	return len(ki.ids)
}

// IDSet tracks single-column keys where the key itself is the identity
// (e.g. tbl_rating keyed by user_id). Seen records the key and reports
// whether it was already present.
type IDSet struct {
	ids map[string]struct{}
}

// NewIDSet wraps a snapshot of existing keys. The map is owned by the set
// after the call.
func NewIDSet(existing map[string]struct{}) *IDSet {
	if existing == nil {
		existing = make(map[string]struct{})
	}
	return &IDSet{ids: existing}
}

// Seen records key and reports whether it was already present.
func (s *IDSet) Seen(key string) bool {
	if _, ok := s.ids[key]; ok {
		return true
	}
	s.ids[key] = struct{}{}
	return false
}
