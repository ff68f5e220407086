package turn

type State int

const (
	StateOff State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateOff:
		return "OFF"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}
