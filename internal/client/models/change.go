package models

// ChangeOp is the kind of mutation recorded in the change log.
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeLogEntry is one append-only change log row.
type ChangeLogEntry struct {
	ID        string   `json:"id"`
	ItemID    string   `json:"itemId"`
	Operation ChangeOp `json:"operation"`
	Version   int64    `json:"version"`
	Timestamp int64    `json:"timestamp"`
}

// Mutation is the domain event raised inside a storage transaction.
// Previous is nil for inserts.
type Mutation struct {
	Op       ChangeOp
	Record   Record
	Previous *Record
	Origin   Origin
}

// Origin tags where a record version came from.
type Origin int

const (
	OriginLocal Origin = iota + 1
	OriginRemote
	OriginArchive
)

func (o Origin) String() string {
	switch o {
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	case OriginArchive:
		return "archive"
	default:
		return "unknown"
	}
}
