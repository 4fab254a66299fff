// Package profile loads and restricts the offline-profiled measure/knob
// tables that back scheduling decisions.
package profile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/apto/aptoctl/internal/knob"
)

// Row is one profiled configuration: a measure vector and the knob settings
// that produced it.
type Row struct {
	Measures []float64
	Knobs    map[string]uint64
}

// Store is the immutable-after-restrict-and-sort profile: measure columns
// keyed by name, parallel knob settings, and the derived speedup (xup)
// model.
type Store struct {
	MeasureNames []string
	rows         []Row

	constraintIdx int
	xupModel      []float64
}

func readTable(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open table %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err = r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %q: %w", path, err)
	}

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row of %q: %w", path, err)
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

// Load reads the measure table and knob table CSVs, pairs
// rows positionally, and returns a Store whose constraint is constraintName.
// The constraint column must appear in the measure table header, and every
// row of the knob table must line up positionally with the measure table.
func Load(measureTablePath, knobTablePath, constraintName string) (*Store, error) {
	mHeader, mRows, err := readTable(measureTablePath)
	if err != nil {
		return nil, fmt.Errorf("load measure table: %w", err)
	}
	kHeader, kRows, err := readTable(knobTablePath)
	if err != nil {
		return nil, fmt.Errorf("load knob table: %w", err)
	}
	if len(mRows) != len(kRows) {
		return nil, fmt.Errorf("measure table has %d rows but knob table has %d rows", len(mRows), len(kRows))
	}

	constraintIdx := -1
	for i, name := range mHeader {
		if name == constraintName {
			constraintIdx = i
			break
		}
	}
	if constraintIdx == -1 {
		return nil, fmt.Errorf("constraint measure %q not found in measure table header %v", constraintName, mHeader)
	}

	rows := make([]Row, len(mRows))
	for i := range mRows {
		measures := make([]float64, len(mHeader))
		for c, name := range mHeader {
			var v float64
			if _, err := fmt.Sscanf(mRows[i][c], "%g", &v); err != nil {
				return nil, fmt.Errorf("parse measure %q row %d: %w", name, i, err)
			}
			measures[c] = v
		}
		settings := make(map[string]uint64, len(kHeader))
		for c, name := range kHeader {
			var v uint64
			if _, err := fmt.Sscanf(kRows[i][c], "%d", &v); err != nil {
				return nil, fmt.Errorf("parse knob %q row %d: %w", name, i, err)
			}
			settings[name] = v
		}
		rows[i] = Row{Measures: measures, Knobs: settings}
	}

	return &Store{
		MeasureNames:  append([]string(nil), mHeader...),
		rows:          rows,
		constraintIdx: constraintIdx,
	}, nil
}

// Restrict drops every row whose knob values are not in the permitted value
// set of the corresponding active knob, or whose knob name is unknown to
// the active set. It returns the number of rows dropped.
func (s *Store) Restrict(active map[string]knob.Tunable[uint64]) int {
	before := len(s.rows)
	kept := s.rows[:0:0]
rowLoop:
	for _, row := range s.rows {
		for name, value := range row.Knobs {
			if name == "id" {
				continue
			}
			tunable, ok := active[name]
			if !ok {
				logrus.Warnf("profile row references unknown knob %q; dropping row", name)
				continue rowLoop
			}
			if !containsUint64(tunable.PossibleValues(), value) {
				continue rowLoop
			}
		}
		kept = append(kept, row)
	}
	s.rows = kept
	dropped := before - len(s.rows)
	if dropped > 0 {
		logrus.Warnf("restrict_model dropped %d of %d profile rows", dropped, before)
	}
	return dropped
}

func containsUint64(values []uint64, v uint64) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// SortByConstraint stably sorts rows ascending by measure column idx and
// recomputes the xup model from the new base (row 0).
func (s *Store) SortByConstraint(idx int) {
	sort.SliceStable(s.rows, func(i, j int) bool {
		return s.rows[i].Measures[idx] < s.rows[j].Measures[idx]
	})
	s.constraintIdx = idx
	s.computeXupModel()
}

func (s *Store) computeXupModel() {
	if len(s.rows) == 0 {
		s.xupModel = nil
		return
	}
	base := s.rows[0].Measures[s.constraintIdx]
	xup := make([]float64, len(s.rows))
	for i, row := range s.rows {
		xup[i] = row.Measures[s.constraintIdx] / base
	}
	xup[0] = 1.0
	s.xupModel = xup
}

// XupModel returns the speedup model derived at the last SortByConstraint
// call: xup[i] = measure[i][constraint] / measure[0][constraint], with
// xup[0] forced to 1.0.
func (s *Store) XupModel() []float64 {
	if s.xupModel == nil {
		s.computeXupModel()
	}
	return append([]float64(nil), s.xupModel...)
}

// MaxXup returns the last (largest) entry of the xup model, used to clamp
// the controller's requested speedup.
func (s *Store) MaxXup() float64 {
	model := s.XupModel()
	if len(model) == 0 {
		return 1.0
	}
	return model[len(model)-1]
}

// Len returns the number of retained profile rows.
func (s *Store) Len() int { return len(s.rows) }

// FindID returns the index of the row whose knob settings (excluding "id")
// equal the current live values of active, or -1 if no row matches.
func (s *Store) FindID(active map[string]knob.Tunable[uint64]) int {
	for idx, row := range s.rows {
		match := true
		for name, value := range row.Knobs {
			if name == "id" {
				continue
			}
			tunable, ok := active[name]
			if !ok || tunable.Get() != value {
				match = false
				break
			}
		}
		if match {
			return idx
		}
	}
	return -1
}

// MeasureValues returns a read-only view of every row's measure vector.
func (s *Store) MeasureValues() [][]float64 {
	out := make([][]float64, len(s.rows))
	for i, row := range s.rows {
		out[i] = append([]float64(nil), row.Measures...)
	}
	return out
}

// KnobSettings returns a read-only view of row i's knob settings.
func (s *Store) KnobSettings(i int) map[string]uint64 {
	out := make(map[string]uint64, len(s.rows[i].Knobs))
	for k, v := range s.rows[i].Knobs {
		out[k] = v
	}
	return out
}

// CostModel projects every row's measure vector onto the given column
// indices, in order, producing the per-candidate cost vectors the
// scheduler interpolates between.
func (s *Store) CostModel(indices []int) [][]float64 {
	out := make([][]float64, len(s.rows))
	for i, row := range s.rows {
		vec := make([]float64, len(indices))
		for j, idx := range indices {
			vec[j] = row.Measures[idx]
		}
		out[i] = vec
	}
	return out
}

// ConstraintIndex returns the measure column index used as the controller's
// constraint.
func (s *Store) ConstraintIndex() int { return s.constraintIdx }

// MeasureIndex returns the column index of a named measure, or -1 if absent.
func (s *Store) MeasureIndex(name string) int {
	for i, n := range s.MeasureNames {
		if n == name {
			return i
		}
	}
	return -1
}

// constraintMean is a small diagnostic returning the mean of the constraint
// column over the retained rows; grounded on the
// corpus's habit (sim package) of using gonum for simple vector reductions
// instead of hand-rolled loops.
func (s *Store) constraintMean() float64 {
	if len(s.rows) == 0 {
		return 0
	}
	vals := make([]float64, len(s.rows))
	for i, row := range s.rows {
		vals[i] = row.Measures[s.constraintIdx]
	}
	return floats.Sum(vals) / float64(len(vals))
}

// ConstraintMean exposes constraintMean for CLI diagnostics.
func (s *Store) ConstraintMean() float64 { return s.constraintMean() }
