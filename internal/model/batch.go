package model

// UnknownOfferingTitle labels a failure whose offering could not be resolved.
const UnknownOfferingTitle = "unknown"

// AdmissionFailure describes why one offering in a batch was not admitted.
type AdmissionFailure struct {
	OfferingID    int64  `json:"offering_id"`
	OfferingTitle string `json:"offering_title"`
	Code          Kind   `json:"error_code"`
	Message       string `json:"error_message"`
}

// BatchItem is the outcome for one offering. Exactly one of Enrollment and
// Failure is set.
type BatchItem struct {
	OfferingID int64             `json:"offering_id"`
	Enrollment *EnrollmentView   `json:"enrollment,omitempty"`
	Failure    *AdmissionFailure `json:"failure,omitempty"`
}

// Succeeded reports whether the item was admitted.
func (i BatchItem) Succeeded() bool {
	return i.Enrollment != nil
}

// BatchResult aggregates the outcomes of one batch enrollment call in the
// order the offerings were processed. It is never persisted.
type BatchResult struct {
	BatchID        string      `json:"batch_id"`
	MemberID       int64       `json:"member_id"`
	Items          []BatchItem `json:"items"`
	TotalRequested int         `json:"total_requested"`
	SuccessCount   int         `json:"success_count"`
	FailureCount   int         `json:"failure_count"`
}

// NewBatchResult returns an empty result.
func NewBatchResult(batchID string, memberID int64) *BatchResult {
	return &BatchResult{BatchID: batchID, MemberID: memberID, Items: []BatchItem{}}
}

// AddSuccess appends an admitted offering.
func (r *BatchResult) AddSuccess(v EnrollmentView) {
	r.Items = append(r.Items, BatchItem{OfferingID: v.OfferingID, Enrollment: &v})
	r.SuccessCount++
	r.TotalRequested++
}

// AddFailure appends a rejected offering.
func (r *BatchResult) AddFailure(f AdmissionFailure) {
	r.Items = append(r.Items, BatchItem{OfferingID: f.OfferingID, Failure: &f})
	r.FailureCount++
	r.TotalRequested++
}

// Successes returns the admitted enrollments in processing order.
func (r *BatchResult) Successes() []EnrollmentView {
	out := make([]EnrollmentView, 0, r.SuccessCount)
	for _, it := range r.Items {
		if it.Enrollment != nil {
			out = append(out, *it.Enrollment)
		}
	}
	return out
}

// Failures returns the rejected offerings in processing order.
func (r *BatchResult) Failures() []AdmissionFailure {
	out := make([]AdmissionFailure, 0, r.FailureCount)
	for _, it := range r.Items {
		if it.Failure != nil {
			out = append(out, *it.Failure)
		}
	}
	return out
}

// HasFailure reports whether any failure has the given kind.
func (r *BatchResult) HasFailure(kind Kind) bool {
	for _, it := range r.Items {
		if it.Failure != nil && it.Failure.Code == kind {
			return true
		}
	}
	return false
}
