package outcome

// Status is the terminal disposition of a job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JobOutcome is the terminal value returned to the orchestrator, created
// exactly once per request key.
type JobOutcome struct {
	RequestKey       string    `json:"requestKey"`
	Status           Status    `json:"status"`
	OutputDescriptor string    `json:"outputDescriptor,omitempty"`
	ErrorKind        ErrorKind `json:"errorKind,omitempty"`
	Message          string    `json:"message,omitempty"`
}

// Completed builds a successful outcome carrying the published artifact name.
func Completed(requestKey, outputDescriptor string) JobOutcome {
	return JobOutcome{
		RequestKey:       requestKey,
		Status:           StatusCompleted,
		OutputDescriptor: outputDescriptor,
	}
}

// Failed builds a terminal failure from a tagged error. Transient encoding
// failures that reach a terminal outcome have exhausted their ceiling and are
// reported as encoding errors.
func Failed(requestKey string, err error) JobOutcome {
	kind := Kind(err)
	if kind == KindTransientEncoding {
		kind = KindEncoding
	}
	message := ""
	if err != nil {
		message = Excerpt(err.Error())
	}
	return JobOutcome{
		RequestKey: requestKey,
		Status:     StatusFailed,
		ErrorKind:  kind,
		Message:    message,
	}
}

// Succeeded reports whether the outcome is the completed terminal state.
func (o JobOutcome) Succeeded() bool {
	return o.Status == StatusCompleted
}
