package portfolio

import (
	"errors"

	"llm-crypto-trader/internal/types"
)

// Journal keeps every fill in memory, in booking order.
type Journal struct {
	Fills []types.Fill
}

func (j *Journal) RecordFill(f types.Fill) error {
	j.Fills = append(j.Fills, f)
	return nil
}

// Tee fans a fill out to several recorders and joins their errors.
func Tee(recorders ...FillRecorder) FillRecorder {
	return tee(recorders)
}

type tee []FillRecorder

func (t tee) RecordFill(f types.Fill) error {
	var errs []error
	for _, r := range t {
		if r == nil {
			continue
		}
		if err := r.RecordFill(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
