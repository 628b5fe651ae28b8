// Package queue implements the Detection Queue and Worker Pool (C4): a
// durable FIFO of detection jobs fronting a fixed-size worker pool that
// invokes the Probe Executor under the Concurrency Gate, following
// control_plane/jobs.go's Dispatcher + worker-loop pairing, adapted from a
// single coordination-store-backed queue to this module's job shape.
package queue

import (
	"encoding/json"

	"github.com/suiyueqingqian/model-check-sub000/internal/strategy"
)

// Job is one detection unit, built by the Detection Service (C8) and pushed
// onto the durable FIFO.
type Job struct {
	ChannelID    string            `json:"channelId"`
	ModelID      string            `json:"modelId"`
	ModelName    string            `json:"modelName"`
	BaseURL      string            `json:"baseUrl"`
	APIKey       string            `json:"apiKey"`
	Proxy        string            `json:"proxy,omitempty"`
	EndpointType strategy.Endpoint `json:"endpointType"`
}

// Marshal encodes a Job as the queue's wire payload.
func Marshal(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// Unmarshal decodes a queue payload back into a Job.
func Unmarshal(b []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(b, &j)
	return j, err
}
