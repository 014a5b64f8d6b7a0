package dto

// ImportRequest is the shared request shape of the submit and status
// endpoints: the remote credential plus the inclusive date range.
type ImportRequest struct {
	APIToken  string `json:"api_token"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// ImportResponse carries the job status back to the caller
type ImportResponse struct {
	JobStatus string `json:"job_status"`
}
