package migrasi

import "fmt"

// checkPrefix verifies that the ledger holds exactly the first len(applied)
// known migrations.
func checkPrefix(known []*Migration, applied []LedgerEntry) error {
	index := make(map[Version]int, len(known))
	for i, m := range known {
		index[m.Version()] = i
	}

	for i, e := range applied {
		pos, ok := index[e.Version]
		if !ok {
			return &UnknownVersionError{Version: e.Version}
		}
		if pos != i {
			return fmt.Errorf("%w: %s is applied but %s is not", ErrLedgerGap, e.Version, known[i].Version())
		}
	}
	return nil
}

func checkTarget(known []*Migration, target Version) error {
	if target == VersionZero {
		return nil
	}
	for _, m := range known {
		if m.Version() == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownTarget, target)
}

// planUp returns the unapplied migrations up to target in ascending order.
func planUp(known []*Migration, applied []LedgerEntry, target Version) ([]*Migration, error) {
	if err := checkPrefix(known, applied); err != nil {
		return nil, err
	}
	if err := checkTarget(known, target); err != nil {
		return nil, err
	}

	pending := make([]*Migration, 0, len(known)-len(applied))
	for _, m := range known[len(applied):] {
		if target != VersionZero && m.Version() > target {
			break
		}
		pending = append(pending, m)
	}
	return pending, nil
}

// planDown returns the applied migrations newer than target, newest first.
func planDown(known []*Migration, applied []LedgerEntry, target Version) ([]*Migration, error) {
	if err := checkPrefix(known, applied); err != nil {
		return nil, err
	}
	if err := checkTarget(known, target); err != nil {
		return nil, err
	}

	rollback := make([]*Migration, 0, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		m := known[i]
		if m.Version() <= target {
			break
		}
		rollback = append(rollback, m)
	}
	return rollback, nil
}

// rollbackTarget returns the version left applied after undoing the last
// step migrations.
func rollbackTarget(applied []LedgerEntry, step int) Version {
	if step >= len(applied) {
		return VersionZero
	}
	return applied[len(applied)-step-1].Version
}
