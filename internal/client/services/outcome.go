package services

// ApplyOutcome reports what ApplyIncoming did with a record.
type ApplyOutcome int

const (
	Created ApplyOutcome = iota + 1
	Replaced
	KeptLocal
	Skipped
)

func (o ApplyOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case Replaced:
		return "replaced"
	case KeptLocal:
		return "kept_local"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// BatchResult counts ApplyBatch outcomes.
type BatchResult struct {
	Created   int
	Replaced  int
	KeptLocal int
	Skipped   int
}

func (b *BatchResult) add(o ApplyOutcome) {
	switch o {
	case Created:
		b.Created++
	case Replaced:
		b.Replaced++
	case KeptLocal:
		b.KeptLocal++
	case Skipped:
		b.Skipped++
	}
}

// Applied is the number of records written.
func (b BatchResult) Applied() int { return b.Created + b.Replaced }
