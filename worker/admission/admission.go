// Package admission decides whether a drop of new files may join a batch.
package admission

import (
	"fmt"

	"imgbatch/internal/counter"
)

// DefaultEstimateFactor models original + preview + output + archive overhead.
const DefaultEstimateFactor = 3.5

// AdmissionError rejects a whole drop; no file of it is admitted.
type AdmissionError struct {
	Total int64
	Limit int64
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("total batch size %s exceeds %s limit",
		counter.FormatSize(e.Total), counter.FormatSize(e.Limit))
}

type Policy struct {
	MaxTotalSize   int64
	EstimateFactor float64
}

// Decision is the outcome of an accepted drop.
type Decision struct {
	NewBytes      int64
	NewFiles      int
	EstimatedPeak int64
	Warning       string
}

// Check applies the policy to the sizes of newly dropped files given the
// original bytes already in the batch.
func (p Policy) Check(newSizes []int64, existingBytes int64) (Decision, error) {
	var total int64
	for _, size := range newSizes {
		total += size
	}

	if total+existingBytes > p.MaxTotalSize {
		return Decision{}, &AdmissionError{Total: total + existingBytes, Limit: p.MaxTotalSize}
	}

	factor := p.EstimateFactor
	if factor <= 0 {
		factor = DefaultEstimateFactor
	}

	d := Decision{
		NewBytes:      total,
		NewFiles:      len(newSizes),
		EstimatedPeak: int64(float64(total) * float64(len(newSizes)) * factor),
	}
	if d.EstimatedPeak > p.MaxTotalSize {
		d.Warning = "Large batch detected. Processing will be slower to prevent crashes."
	}
	return d, nil
}
