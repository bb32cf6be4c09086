package exporter

import "time"

// InventoryValue is the outcome of counting one Source.
type InventoryValue struct {
	Collection string
	Count      float64
	Err        error
	Elapsed    time.Duration
}

// Failed reports whether the count could not be taken.
func (v InventoryValue) Failed() bool { return v.Err != nil }

// Labels returns the metric labels as a slice.
func (v InventoryValue) Labels() []string {
	return []string{v.Collection}
}

// succeeded counts the values that were collected without error.
func succeeded(values []InventoryValue) int {
	n := 0
	for _, v := range values {
		if !v.Failed() {
			n++
		}
	}
	return n
}
