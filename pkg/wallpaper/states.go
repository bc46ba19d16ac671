package wallpaper

// UploadState is the lifecycle state of a wallpaper record.
type UploadState string

const (
	// StateInitiated marks an intent: the id is reserved, no bytes uploaded.
	StateInitiated UploadState = "initiated"
	// StateUploading means the object-store put is in flight.
	StateUploading UploadState = "uploading"
	// StateStored means bytes are durable and metadata is complete, the
	// uploaded event has not been confirmed yet.
	StateStored UploadState = "stored"
	// StateProcessing means the uploaded event is published; downstream
	// workers may act.
	StateProcessing UploadState = "processing"
	// StateCompleted is terminal; downstream processing finished.
	StateCompleted UploadState = "completed"
	// StateFailed is terminal; ProcessingError carries the reason.
	StateFailed UploadState = "failed"
)

// IsValid checks if the state is a known UploadState.
func (s UploadState) IsValid() bool {
	switch s {
	case StateInitiated, StateUploading, StateStored, StateProcessing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s UploadState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ActiveStates are the states that count for per-user content-hash
// uniqueness. Records in initiated, uploading or failed do not block a
// retry of the same bytes.
var ActiveStates = []UploadState{StateStored, StateProcessing, StateCompleted}

// transitions is the legal edge set of the upload state machine.
var transitions = map[UploadState][]UploadState{
	StateInitiated:  {StateUploading, StateFailed},
	StateUploading:  {StateStored, StateFailed},
	StateStored:     {StateProcessing, StateFailed},
	StateProcessing: {StateCompleted, StateFailed},
	StateCompleted:  {},
	StateFailed:     {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to UploadState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
