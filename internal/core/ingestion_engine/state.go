package ingestion_engine

// State is a step of the per-document state machine.
type State string

const (
	StateNew             State = "NEW"
	StateFetched         State = "FETCHED"
	StateExtracted       State = "EXTRACTED"
	StateQualityChecked  State = "QUALITY_CHECKED"
	StateChunked         State = "CHUNKED"
	StateEmbedded        State = "EMBEDDED"
	StatePersisted       State = "PERSISTED"
	StateRejectedQuality State = "REJECTED_QUALITY"
	StateFailed          State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StatePersisted || s == StateRejectedQuality || s == StateFailed
}
