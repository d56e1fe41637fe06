package engine

// journal holds undo actions for every book mutation made by the calls
// currently in flight. Reverting to a length undoes, newest first, every
// change recorded after it.
type journal struct {
	entries []func()
}

func (j *journal) append(undo func()) {
	j.entries = append(j.entries, undo)
}

func (j *journal) length() int {
	return len(j.entries)
}

func (j *journal) revert(to int) {
	for i := len(j.entries) - 1; i >= to; i-- {
		j.entries[i]()
	}
	j.entries = j.entries[:to]
}

func (j *journal) reset() {
	j.entries = j.entries[:0]
}
