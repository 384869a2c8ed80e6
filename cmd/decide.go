package cmd

// Decision is the outcome of the pre-transfer check for one attachment.
type Decision int

const (
	DecisionTransfer Decision = iota
	DecisionSkipExisting
	DecisionSkipDuplicateInRun
)

func (d Decision) String() string {
	switch d {
	case DecisionTransfer:
		return "transfer"
	case DecisionSkipExisting:
		return "skip_existing"
	case DecisionSkipDuplicateInRun:
		return "skip_duplicate_in_run"
	default:
		return "unknown"
	}
}

// seenSet tracks names claimed during the current run. Entries are recorded
// when a transfer is decided, before the upload starts, so a later
// same-named attachment is skipped even if the earlier upload fails.
type seenSet struct {
	names  map[string]struct{}
	rowExt map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{
		names:  make(map[string]struct{}),
		rowExt: make(map[string]struct{}),
	}
}

func (s *seenSet) contains(r resolvedName) bool {
	if _, ok := s.names[r.Name]; ok {
		return true
	}
	if r.Ext == "" {
		return false
	}
	_, ok := s.rowExt[rowExtKey(r.Row, r.Ext)]
	return ok
}

func (s *seenSet) mark(r resolvedName) {
	s.names[r.Name] = struct{}{}
	if r.Ext != "" {
		s.rowExt[rowExtKey(r.Row, r.Ext)] = struct{}{}
	}
}

// decide checks a resolved name against the destination index and the
// per-run seen set. A transfer decision marks the seen set immediately.
func decide(r resolvedName, ix *fileIndex, seen *seenSet) Decision {
	if ix.Contains(r) {
		return DecisionSkipExisting
	}
	if seen.contains(r) {
		return DecisionSkipDuplicateInRun
	}
	seen.mark(r)
	return DecisionTransfer
}
