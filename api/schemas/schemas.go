// api/schemas/schemas.go
package schemas

import (
	"time"
)

// ChatRole identifies the author of a conversation turn.
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// Screenshot is an opaque reference to one captured frame of the device
// screen. The core never inspects the pixels; it only forwards them to the
// model transport.
type Screenshot struct {
	// MIMEType is the encoded image type, e.g. "image/png" or "image/jpeg".
	MIMEType string
	// Data holds the encoded image bytes.
	Data []byte
	// Width and Height are the dimensions of the encoded image in pixels.
	Width  int
	Height int
	// CapturedAt records when the frame was taken.
	CapturedAt time.Time
}

// Ref returns a short human-readable identifier for logs and step records.
func (s *Screenshot) Ref() string {
	if s == nil {
		return ""
	}
	return s.CapturedAt.UTC().Format("20060102T150405.000Z0700")
}

// ChatTurn is one entry of the multi-turn conversation sent to the model.
// A turn may carry a screenshot alongside its text.
type ChatTurn struct {
	Role       ChatRole
	Text       string
	Screenshot *Screenshot
}

// ChatRequest is a complete model request: a system instruction plus the
// ordered conversation turns.
type ChatRequest struct {
	System string
	Turns  []ChatTurn
}

// StreamChunk is one fragment of a streaming model response. The transport
// closes the channel when the stream ends; a chunk with Err set terminates
// the stream with a failure.
type StreamChunk struct {
	Text string
	Err  error
}
