package dialogue

import (
	"encoding/base64"
	"fmt"

	"github.com/synclabs/voiceturn/pkg/speech"
)

// DecodeClip decodes a base64 audio payload from a response into a playable
// clip. The duration is unknown to the backend, so it stays zero and playback
// falls back to its flat safety ceiling.
func DecodeClip(audioB64 string) (speech.Clip, error) {
	if audioB64 == "" {
		return speech.Clip{}, fmt.Errorf("dialogue: empty audio payload")
	}
	raw, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return speech.Clip{}, fmt.Errorf("dialogue: decode audio: %w", err)
	}
	return speech.Clip{Audio: raw, MIME: "audio/mpeg"}, nil
}
