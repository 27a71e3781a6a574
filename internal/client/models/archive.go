package models

// ArchiveMeta describes one completed export.
type ArchiveMeta struct {
	ID          string `json:"id"`
	FilePath    string `json:"filePath"`
	Checksum    string `json:"checksum"`
	SizeBytes   int64  `json:"sizeBytes"`
	ItemCount   int    `json:"itemCount"`
	IsEncrypted bool   `json:"isEncrypted"`
	CreatedAt   int64  `json:"createdAt"`
}

// Blob upload states.
const (
	BlobPending   = "pending"
	BlobCompleted = "completed"
)

// Blob is a locally stored, content-addressed attachment.
type Blob struct {
	Hash         string
	Size         int64
	LocalPath    string
	UploadStatus string
}
