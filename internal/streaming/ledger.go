package streaming

// Ledger records, for one request, which records have already been emitted.
// Keys are never removed and an already-recorded key is never emitted again.
// A Ledger is owned by a single dispatcher; no locking is needed.
type Ledger struct {
	emitted map[string]map[string]int
	next    map[string]int

	emittedTotal int
	duplicates   int
}

// NewLedger creates an empty per-request ledger.
func NewLedger() *Ledger {
	return &Ledger{
		emitted: make(map[string]map[string]int),
		next:    make(map[string]int),
	}
}

// NextIndex returns the lowest array index not yet consumed for the data type.
func (l *Ledger) NextIndex(dataType string) int {
	return l.next[dataType]
}

// Seen reports whether an identifier was already emitted for the data type.
func (l *Ledger) Seen(dataType, id string) bool {
	_, ok := l.emitted[dataType][id]
	return ok
}

// MarkEmitted records a key and advances the type's index high-water mark to
// at least index+1.
func (l *Ledger) MarkEmitted(dataType string, index int, id string) {
	byID, ok := l.emitted[dataType]
	if !ok {
		byID = make(map[string]int)
		l.emitted[dataType] = byID
	}
	byID[id] = index
	l.emittedTotal++
	l.advance(dataType, index)
}

// MarkDuplicate records that a complete element carried an identifier that was
// already emitted at a lower index. The element is consumed without emission.
func (l *Ledger) MarkDuplicate(dataType string, index int) {
	l.duplicates++
	l.advance(dataType, index)
}

func (l *Ledger) advance(dataType string, index int) {
	if index+1 > l.next[dataType] {
		l.next[dataType] = index + 1
	}
}

// EmittedCount returns the total number of records emitted across all types.
func (l *Ledger) EmittedCount() int {
	return l.emittedTotal
}

// DuplicateCount returns how many complete elements were dropped because their
// identifier collided with an earlier element of the same type.
func (l *Ledger) DuplicateCount() int {
	return l.duplicates
}
