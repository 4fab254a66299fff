package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/apto/aptoctl/internal/knob"
)

// dependentKnobNames holds the knob names whose actuation must follow every
// Primary knob in the same window, matching internal/knob's Category
// semantics for hyperthreading and cache-partition knobs.
var dependentKnobNames = map[string]bool{
	"hyperthreading":        true,
	"cache_partition":       true,
	"cache_partition_class": true,
}

// buildKnobsFromTable reads a knob table CSV (the same file passed to
// profile.Load as knobTablePath) and constructs one ApplicationKnob per
// column, with PossibleValues taken from the column's distinct values and
// the initial value taken from the first row.
func buildKnobsFromTable(path string) (map[string]knob.Tunable[uint64], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening knob table %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading knob table header %q: %w", path, err)
	}

	columns := make([][]uint64, len(header))
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading knob table row %q: %w", path, err)
		}
		for c, raw := range record {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing knob value %q in column %q: %w", raw, header[c], err)
			}
			columns[c] = append(columns[c], v)
		}
	}

	knobs := make(map[string]knob.Tunable[uint64], len(header))
	for c, name := range header {
		if name == "id" {
			continue
		}
		values := distinctSortedUint64(columns[c])
		if len(values) == 0 {
			continue
		}
		category := knob.Primary
		if dependentKnobNames[name] {
			category = knob.Dependent
		}
		knobs[name] = knob.NewApplicationKnob[uint64](name, category, values, columns[c][0], nil)
	}
	return knobs, nil
}

func distinctSortedUint64(values []uint64) []uint64 {
	seen := make(map[uint64]bool, len(values))
	var out []uint64
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
