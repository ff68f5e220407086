package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonDialoguePost    ReasonCode = "dialogue_post"
	ReasonDialogueDecode  ReasonCode = "dialogue_decode"
	ReasonDialogueTimeout ReasonCode = "dialogue_timeout"

	ReasonSynthFetch       ReasonCode = "synth_fetch"
	ReasonSynthUnavailable ReasonCode = "synth_unavailable"
	ReasonSynthCircuitOpen ReasonCode = "synth_circuit_open"
	ReasonBuiltinSynth     ReasonCode = "builtin_synth"

	ReasonRecognizerStart  ReasonCode = "recognizer_start"
	ReasonRecognizerDenied ReasonCode = "recognizer_denied"

	ReasonPlayback ReasonCode = "playback"
)
