package models

type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

type SyncStatus string

const (
	SyncNotSynced SyncStatus = "not_synced"
	SyncSynced    SyncStatus = "synced"
	SyncFailed    SyncStatus = "failed"
)
