package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // sample-batch, configuration.saved
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventSampleBatch      = "sample-batch"
	EventConfigurationSet = "configuration.saved"
)

// SampleBatch is a group of raw interchange messages from one vendor feed, either posted
// over HTTP or carried in the Data of a sample-batch event.
type SampleBatch struct {
	Vendor        string    `json:"vendor,omitempty"`
	Standard      string    `json:"standard,omitempty"`
	MessageType   string    `json:"messageType,omitempty"`
	Messages      []string  `json:"messages"`
	MinConfidence *float64  `json:"minConfidence,omitempty"`
	SampleLimit   int       `json:"sampleLimit,omitempty"`
	Seed          int64     `json:"seed,omitempty"`
	FileName      string    `json:"fileName,omitempty"`
	ReceivedAt    time.Time `json:"receivedAt,omitempty"`
}
