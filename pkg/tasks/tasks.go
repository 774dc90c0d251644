// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentProcessingTask represents the data structure for a document text-extraction job.
type DocumentProcessingTask struct {
	DocumentID uint   `json:"document_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	UserID     uint   `json:"user_id"`
}
