package models

// ExtractionJob is the SQS message body for one document extraction.
type ExtractionJob struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
	StorageKey string `json:"storage_key"`
	Attempt    int    `json:"attempt"`
}
