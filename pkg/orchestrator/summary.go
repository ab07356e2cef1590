package orchestrator

import (
	"encoding/json"
	"time"
)

// PageStatus is the outcome of one page target.
type PageStatus string

const (
	PageDelivered      PageStatus = "delivered"
	PageCaptureFailed  PageStatus = "capture_failed"
	PageDeliveryFailed PageStatus = "delivery_failed"
)

// PageResult records what happened to one target.
type PageResult struct {
	Name   string     `json:"name"`
	Status PageStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Summary describes a finished run. It is never persisted.
type Summary struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Pages      []PageResult `json:"pages"`

	// Err is the error that ended the run early, if any
	Err error `json:"-"`
}

func (s *Summary) record(name string, status PageStatus, err error) {
	result := PageResult{Name: name, Status: status}
	if err != nil {
		result.Error = err.Error()
	}
	s.Pages = append(s.Pages, result)
}

func (s *Summary) fail(err error) {
	if s.Err == nil {
		s.Err = err
	}
}

// Duration is the wall time of the run.
func (s *Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Delivered counts pages whose screenshot reached the chat.
func (s *Summary) Delivered() int {
	n := 0
	for _, p := range s.Pages {
		if p.Status == PageDelivered {
			n++
		}
	}
	return n
}

// Failed counts pages that were attempted but not delivered.
func (s *Summary) Failed() int {
	return len(s.Pages) - s.Delivered()
}

// MarshalJSON adds the run error and duration.
func (s *Summary) MarshalJSON() ([]byte, error) {
	type plain Summary
	out := struct {
		*plain
		Error    string  `json:"error,omitempty"`
		Duration float64 `json:"duration_seconds"`
	}{
		plain:    (*plain)(s),
		Duration: s.Duration().Seconds(),
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	return json.Marshal(out)
}
