package dialogue

import "context"

// Role values for history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TurnRequest is the conversational body shape: the user (or generated)
// message plus recent history and the caller-supplied step context, which is
// forwarded verbatim so the surrounding application can steer the dialogue
// without this core knowing page semantics.
type TurnRequest struct {
	Message     string    `json:"message"`
	History     []Message `json:"history,omitempty"`
	DemoToken   string    `json:"demoToken,omitempty"`
	StepContext any       `json:"stepContext,omitempty"`
	Language    string    `json:"language,omitempty"`
}

// SynthRequest is the synthesis-only body shape.
type SynthRequest struct {
	TTSOnly  bool   `json:"ttsOnly"`
	TTSText  string `json:"ttsText"`
	Language string `json:"language,omitempty"`
}

// TurnResponse is the shared response shape. Audio, when present, is a
// base64-encoded clip; TTSUnavailable flags that server synthesis does not
// cover the requested language.
type TurnResponse struct {
	Response       string `json:"response,omitempty"`
	Text           string `json:"text,omitempty"`
	Audio          string `json:"audio,omitempty"`
	TTSUnavailable bool   `json:"ttsUnavailable,omitempty"`
}

// Reply returns the reply text, preferring the response field.
func (r TurnResponse) Reply() string {
	if r.Response != "" {
		return r.Response
	}
	return r.Text
}

// Client is the dialogue/synthesis backend contract.
type Client interface {
	// Turn posts a conversational turn and returns the assistant reply.
	Turn(ctx context.Context, req TurnRequest) (TurnResponse, error)
	// Synthesize requests server-side speech for a fixed text.
	Synthesize(ctx context.Context, req SynthRequest) (TurnResponse, error)
}
