package queue

import (
	"encoding/json"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	SourceGitHub = "github"
	SourceFile   = "file"
)

// IngestMsg asks a worker to refresh the pattern catalog.
type IngestMsg struct {
	CorrelationID string    `json:"correlation_id"`
	Source        string    `json:"source"`
	Path          string    `json:"path,omitempty"`
	RequestedBy   string    `json:"requested_by,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// NewIngestMsg fills in a fresh correlation id.
func NewIngestMsg(source, path, requestedBy string) (IngestMsg, error) {
	id, err := gonanoid.New()
	if err != nil {
		return IngestMsg{}, err
	}
	if source == "" {
		source = SourceGitHub
	}
	return IngestMsg{
		CorrelationID: id,
		Source:        source,
		Path:          path,
		RequestedBy:   requestedBy,
		RequestedAt:   time.Now().UTC(),
	}, nil
}

func (m IngestMsg) Validate() error {
	switch m.Source {
	case SourceGitHub:
	case SourceFile:
		if m.Path == "" {
			return fmt.Errorf("file source needs a path")
		}
	default:
		return fmt.Errorf("unknown ingest source %q", m.Source)
	}
	if m.CorrelationID == "" {
		return fmt.Errorf("missing correlation id")
	}
	return nil
}

// PublishIngest queues msg on IngestQueue.
func PublishIngest(ch Publisher, msg IngestMsg) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return PublishFIFO(ch, IngestQueue, data)
}
