package browser

import "github.com/sells-group/directory-cli/internal/model"

// Accumulator collects records keyed by profile URL for the lifetime of one
// session. The DOM strategies upsert into it across extraction passes; a
// later write for the same key replaces the earlier record. One strategy
// writes at a time, so no locking.
type Accumulator struct {
	records map[string]model.Company
}

func NewAccumulator() *Accumulator {
	return &Accumulator{records: make(map[string]model.Company)}
}

// Upsert stores rec under its profile URL, overwriting any earlier record
// with the same key.
func (a *Accumulator) Upsert(rec model.Company) {
	a.records[rec.ProfileURL] = rec
}

func (a *Accumulator) Len() int {
	return len(a.records)
}

// Snapshot copies the collected records. Mutating the returned map does not
// affect the accumulator.
func (a *Accumulator) Snapshot() map[string]model.Company {
	out := make(map[string]model.Company, len(a.records))
	for k, v := range a.records {
		out[k] = v
	}
	return out
}
