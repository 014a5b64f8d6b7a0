package importjob

// Status is the derived state of an import job. It is never stored
// directly: it is computed from the presence and state of the job's
// queue row. A finished job leaves no row behind, so "finished" and
// "never submitted" are indistinguishable by design.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	StatusFinished  Status = "finished"
)
