package contracts

import "time"

// NewSuccessResponse wraps data in a successful APIResponse.
func NewSuccessResponse(data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse builds a failed APIResponse.
func NewErrorResponse(error string) APIResponse {
	return APIResponse{
		Success: false,
		Error:   error,
	}
}

// HistoryResponse is the body of a history listing.
type HistoryResponse struct {
	Target  string         `json:"target"`
	Records []*AlertRecord `json:"records"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
}

// RecordFromEvaluation turns an evaluation of target into a record stamped
// with at.
func RecordFromEvaluation(target, hostName string, eval Evaluation, at time.Time) *AlertRecord {
	return &AlertRecord{
		Target:         target,
		HostName:       hostName,
		State:          eval.Result.State,
		Messages:       eval.Result.Messages,
		Stage:          eval.Stage,
		UnhealthyHosts: eval.UnhealthyHosts,
		Duration:       eval.Duration,
		Timestamp:      at,
	}
}
