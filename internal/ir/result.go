package ir

import "time"

// Status is the outcome of one node in a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusSkipped Status = "skipped"
)

// NodeResult is written exactly once per attempted or skipped node.
type NodeResult struct {
	UniqueID  string        `json:"unique_id"`
	Status    Status        `json:"status"`
	Stage     string        `json:"stage,omitempty"`
	Message   string        `json:"message,omitempty"`
	Statement string        `json:"statement,omitempty"`
	Relation  *Relation     `json:"relation,omitempty"`
	Deferred  []string      `json:"deferred,omitempty"` // references redirected to the alternate snapshot
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// RunResults collects the per-node outcome of one invocation.
type RunResults struct {
	InvocationID string        `json:"invocation_id"`
	Results      []*NodeResult `json:"results"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Count returns the number of results with the given status.
func (r *RunResults) Count(status Status) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Attempted returns the number of nodes that were actually executed.
func (r *RunResults) Attempted() int {
	return r.Count(StatusSuccess) + r.Count(StatusError)
}

// Get returns the result for id, or nil.
func (r *RunResults) Get(id string) *NodeResult {
	if r == nil {
		return nil
	}
	for _, res := range r.Results {
		if res.UniqueID == id {
			return res
		}
	}
	return nil
}
