package domain

import "time"

// JobRecord is the canonical representation of one posting, independent of
// the feed dialect it was extracted from.
type JobRecord struct {
	ExternalID    string            `json:"externalId"`
	SourceURL     string            `json:"sourceUrl"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Company       string            `json:"company"`
	Location      string            `json:"location"`
	JobType       string            `json:"jobType"`
	Category      string            `json:"category"`
	Salary        string            `json:"salary"`
	ApplyURL      string            `json:"applyUrl"`
	PublishedDate time.Time         `json:"publishedDate"`
	RawPayload    map[string]string `json:"rawPayload,omitempty"`
}

// Key returns the natural key used for reconciliation.
func (j *JobRecord) Key() string {
	return j.ExternalID + "|" + j.SourceURL
}

// QueueUnit is one record in transit between enqueue and its terminal
// delivery outcome. The delivery attempt number travels in an AMQP header,
// not in the body, so redeliveries keep an identical payload.
type QueueUnit struct {
	Job       JobRecord `json:"job"`
	SourceURL string    `json:"sourceUrl"`
	RunID     string    `json:"runId"`
}

// Outcome classifies one successful reconciliation.
type Outcome string

const (
	OutcomeNew     Outcome = "new"
	OutcomeUpdated Outcome = "updated"
)
