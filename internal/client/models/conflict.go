package models

// ResolutionLastWriteWins is the only resolution strategy.
const ResolutionLastWriteWins = "last_write_wins"

// ConflictRecord is the audit row written for every resolver invocation.
type ConflictRecord struct {
	ID              string `json:"id"`
	ItemID          string `json:"itemId"`
	LocalTimestamp  int64  `json:"localTimestamp"`
	RemoteTimestamp int64  `json:"remoteTimestamp"`
	Resolution      string `json:"resolution"`
	Winner          string `json:"winner"`
	DetectedAt      int64  `json:"detectedAt"`
}
