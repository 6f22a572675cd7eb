package admission

import (
	"errors"
	"testing"
)

const mb = 1_000_000

func TestPolicy_RejectsOverTotal(t *testing.T) {
	p := Policy{MaxTotalSize: 4 * mb, EstimateFactor: DefaultEstimateFactor}

	_, err := p.Check([]int64{2 * mb, 3 * mb}, 0)
	var admErr *AdmissionError
	if !errors.As(err, &admErr) {
		t.Fatalf("Expected AdmissionError, got %v", err)
	}
	if admErr.Total != 5*mb || admErr.Limit != 4*mb {
		t.Errorf("Unexpected error fields: %+v", admErr)
	}
}

func TestPolicy_CountsExistingBatch(t *testing.T) {
	p := Policy{MaxTotalSize: 10 * mb}

	if _, err := p.Check([]int64{2 * mb}, 9*mb); err == nil {
		t.Fatal("Expected rejection when existing + new exceeds the limit")
	}
	if _, err := p.Check([]int64{1 * mb}, 9*mb); err != nil {
		t.Errorf("Expected exact limit to be accepted, got %v", err)
	}
}

func TestPolicy_WarnsOnEstimatedPeak(t *testing.T) {
	p := Policy{MaxTotalSize: 100 * mb, EstimateFactor: DefaultEstimateFactor}

	d, err := p.Check([]int64{5 * mb, 5 * mb, 5 * mb}, 0)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	// 15MB * 3 files * 3.5
	if d.EstimatedPeak != 157_500_000 {
		t.Errorf("Expected estimated peak 157500000, got %d", d.EstimatedPeak)
	}
	if d.Warning == "" {
		t.Error("Expected a large batch warning")
	}
}

func TestPolicy_NoWarningForSmallDrop(t *testing.T) {
	p := Policy{MaxTotalSize: 100 * mb}

	d, err := p.Check([]int64{1 * mb}, 0)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Warning != "" {
		t.Errorf("Expected no warning, got %q", d.Warning)
	}
	if d.NewFiles != 1 || d.NewBytes != mb {
		t.Errorf("Unexpected decision: %+v", d)
	}
}
