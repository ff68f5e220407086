package voiceturn

// Callbacks are the hooks the surrounding application registers on the
// controller. All are optional and invoked from controller goroutines, so
// they must be quick and must not call back into blocking controller
// operations.
type Callbacks struct {
	// OnUserSpoke fires when a user utterance (spoken or typed) starts a
	// turn, before the dialogue request is posted. Used for UI side effects
	// such as exiting an auto-advancing script.
	OnUserSpoke func(text string)
	// OnAction fires once per demo-action directive found in a reply, in
	// order of appearance, with the directive payload.
	OnAction func(payload string)
	// OnTranscript fires whenever the latest transcript line changes.
	OnTranscript func(line string)
}
