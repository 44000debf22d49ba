package service

import "context"

// Admission outcomes that are not business failures. Business failures are
// recorded under their model.Kind.
const (
	OutcomeAdmitted  = "ADMITTED"
	OutcomeTransient = "TRANSIENT"
	OutcomeError     = "ERROR"
)

// Recorder observes admission outcomes. Implementations must not block the
// admission path for long and must swallow their own errors.
type Recorder interface {
	RecordAdmission(ctx context.Context, offeringID int64, outcome string)
	RecordCancel(ctx context.Context, offeringID int64)
	RecordBatch(ctx context.Context, size int)
}

// Recorders fans out to every recorder in order.
type Recorders []Recorder

func (rs Recorders) RecordAdmission(ctx context.Context, offeringID int64, outcome string) {
	for _, r := range rs {
		r.RecordAdmission(ctx, offeringID, outcome)
	}
}

func (rs Recorders) RecordCancel(ctx context.Context, offeringID int64) {
	for _, r := range rs {
		r.RecordCancel(ctx, offeringID)
	}
}

func (rs Recorders) RecordBatch(ctx context.Context, size int) {
	for _, r := range rs {
		r.RecordBatch(ctx, size)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordAdmission(context.Context, int64, string) {}
func (nopRecorder) RecordCancel(context.Context, int64)            {}
func (nopRecorder) RecordBatch(context.Context, int)               {}
