package job

import (
	"encoding/json"
	"time"
)

// Handler names identify which consumer a failed payload belongs to and
// decide the topic a retry republishes to.
const (
	HandlerIndexWorker  = "index-worker"
	HandlerAnswerWorker = "answer-worker"
)

type Job struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Handler    string          `json:"handler"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	Retries    int             `json:"retries"`
	CreatedAt  time.Time       `json:"created_at"`
}
