package model

// WSMessageType tags every frame pushed on /ws/jobs/:jobId.
type WSMessageType string

const (
	WSMessageTypeProgress WSMessageType = "progress"
	WSMessageTypeSegment  WSMessageType = "segment"
	WSMessageTypeComplete WSMessageType = "complete"
	WSMessageTypeError    WSMessageType = "error"
	WSMessageTypePing     WSMessageType = "ping"
	WSMessageTypePong     WSMessageType = "pong"
)

// WSEnvelope is the part every frame shares. Client pings carry only Type.
type WSEnvelope struct {
	Type  WSMessageType `json:"type"`
	JobID string        `json:"jobId,omitempty"`
}

// WSProgressMessage reports how far a batch has come.
type WSProgressMessage struct {
	WSEnvelope
	Progress    int       `json:"progress"`
	Status      JobStatus `json:"status"`
	CurrentStep string    `json:"currentStep,omitempty"`
}

// WSSegmentMessage is sent each time one section of a batch settles.
type WSSegmentMessage struct {
	WSEnvelope
	Item ClipItem `json:"item"`
}

// WSCompleteMessage carries the finished batch.
type WSCompleteMessage struct {
	WSEnvelope
	Result interface{} `json:"result"`
}

// WSErrorMessage reports a failed batch with its error kind as the code.
type WSErrorMessage struct {
	WSEnvelope
	Error ItemError `json:"error"`
}
