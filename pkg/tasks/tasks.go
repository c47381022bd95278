// Package tasks defines the structure for messages exchanged over Kafka.
package tasks

// RelayMessageTask is what the backend publishes to the ingestion topic
// instead of calling the enqueue endpoint.
type RelayMessageTask struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Header    string `json:"header"`
	Content   string `json:"content"`
}
