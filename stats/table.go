// File: stats/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package stats

// Table is the pre-partitioned statistics table, one Slot per core.
// Slot 0 belongs to the primary core running the run-mode driver.
type Table struct {
	slots []*Slot
}

// NewTable allocates n slots.
func NewTable(n int) *Table {
	if n < 1 {
		n = 1
	}
	t := &Table{slots: make([]*Slot, n)}
	for i := range t.slots {
		t.slots[i] = newSlot(i)
	}
	return t
}

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.slots) }

// Slot returns slot i, or nil when out of range.
func (t *Table) Slot(i int) *Slot {
	if i < 0 || i >= len(t.slots) {
		return nil
	}
	return t.slots[i]
}

// Snapshot copies every slot.
func (t *Table) Snapshot() []Snapshot {
	out := make([]Snapshot, len(t.slots))
	for i, s := range t.slots {
		out[i] = s.Snapshot()
	}
	return out
}

// Totals sums every slot. Gauges of the same name are summed across
// slots. Histograms are merged into fresh copies.
func (t *Table) Totals() Snapshot {
	total := Snapshot{
		Slot:   -1,
		Custom: make(map[string]uint64),
		Gauges: make(map[string]int64),
		Hists:  make(map[string]*Histogram),
	}
	for _, s := range t.Snapshot() {
		total.RxBufs += s.RxBufs
		total.RxBytes += s.RxBytes
		total.TxBufs += s.TxBufs
		total.TxBytes += s.TxBytes
		total.Batches += s.Batches
		total.ExecCalls += s.ExecCalls
		total.Drops += s.Drops
		for k, v := range s.Custom {
			total.Custom[k] += v
		}
		for k, v := range s.Gauges {
			total.Gauges[k] += v
		}
		for k, h := range s.Hists {
			dst, ok := total.Hists[k]
			if !ok {
				dst = &Histogram{}
				total.Hists[k] = dst
			}
			dst.Merge(h)
		}
	}
	return total
}

// Drops sums the drop counters of every slot.
func (t *Table) Drops() uint64 {
	var n uint64
	for _, s := range t.slots {
		n += s.Drops()
	}
	return n
}
