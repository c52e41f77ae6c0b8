package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvaluation(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		accepted bool
		reason   string
	}{
		{"seed accepted", "test-gps", true, "seed"},
		{"interval accepted", "test-gps", true, "interval"},
		{"rejected", "test-network", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := "reject"
			if tt.accepted {
				decision = "accept"
			}
			before := testutil.ToFloat64(FixesEvaluated.WithLabelValues(tt.source, decision))
			var beforeReason float64
			if tt.accepted {
				beforeReason = testutil.ToFloat64(FixesAccepted.WithLabelValues(tt.reason))
			}

			RecordEvaluation(tt.source, tt.accepted, tt.reason)

			if got := testutil.ToFloat64(FixesEvaluated.WithLabelValues(tt.source, decision)); got != before+1 {
				t.Errorf("evaluated counter = %v, want %v", got, before+1)
			}
			if tt.accepted {
				if got := testutil.ToFloat64(FixesAccepted.WithLabelValues(tt.reason)); got != beforeReason+1 {
					t.Errorf("accepted counter = %v, want %v", got, beforeReason+1)
				}
			}
		})
	}
}

func TestRecordDelivery(t *testing.T) {
	okBefore := testutil.ToFloat64(Deliveries.WithLabelValues("test", "ok"))
	errBefore := testutil.ToFloat64(Deliveries.WithLabelValues("test", "error"))

	RecordDelivery("test", nil)
	RecordDelivery("test", errors.New("broker gone"))

	if got := testutil.ToFloat64(Deliveries.WithLabelValues("test", "ok")); got != okBefore+1 {
		t.Errorf("ok = %v", got)
	}
	if got := testutil.ToFloat64(Deliveries.WithLabelValues("test", "error")); got != errBefore+1 {
		t.Errorf("error = %v", got)
	}
}
