package chunk

import (
	"regexp"
)

// Shape tags which provider chunk shape produced a Fragment.
type Shape int

const (
	// ShapeNone means the chunk carried no text.
	ShapeNone Shape = iota
	// ShapeDelta is choices[0].delta.content.
	ShapeDelta
	// ShapeMessage is choices[0].message.content.
	ShapeMessage
)

func (s Shape) String() string {
	switch s {
	case ShapeDelta:
		return "delta"
	case ShapeMessage:
		return "message"
	default:
		return "none"
	}
}

// Fragment is a normalized unit of streamed text plus end-of-stream and error
// signaling. Fragments are values and are never modified after creation.
type Fragment struct {
	Shape Shape
	Text  string

	// Terminal is set when the provider signaled the end of the stream.
	Terminal bool

	// FinishReason is the provider's finish_reason, if any.
	FinishReason string

	// ErrorMessage is set when the provider reported an error instead of content.
	ErrorMessage string
}

// Empty reports whether the fragment carries nothing worth forwarding.
func (f Fragment) Empty() bool {
	return f.Text == "" && !f.Terminal && f.ErrorMessage == ""
}

// Failed reports whether the provider signaled an error.
func (f Fragment) Failed() bool {
	return f.ErrorMessage != ""
}

// WithText returns a copy of f carrying text.
func (f Fragment) WithText(text string) Fragment {
	f.Text = text
	return f
}

var missingSentenceSpace = regexp.MustCompile(`([.!?])([A-Z])`)

// Extract normalizes c into a Fragment. The delta shape is checked before the
// message shape; a chunk with neither yields an empty ShapeNone fragment.
func Extract(c Chunk) Fragment {
	if msg, ok := c.ErrorMessage(); ok {
		if msg == "" {
			msg = "provider reported an error"
		}
		return Fragment{Terminal: true, ErrorMessage: msg}
	}

	if len(c.Choices) == 0 {
		return Fragment{}
	}

	choice := c.Choices[0]
	var f Fragment
	switch {
	case choice.Delta != nil && choice.Delta.Content != nil:
		f.Shape = ShapeDelta
		f.Text = *choice.Delta.Content
	case choice.Message != nil && choice.Message.Content != nil:
		f.Shape = ShapeMessage
		f.Text = *choice.Message.Content
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		f.Terminal = true
		f.FinishReason = *choice.FinishReason
	}

	f.Text = fixSentenceSpacing(f.Text)
	return f
}

// fixSentenceSpacing inserts a space between sentence punctuation and a
// directly following uppercase letter. It is idempotent.
func fixSentenceSpacing(s string) string {
	if s == "" {
		return s
	}
	return missingSentenceSpace.ReplaceAllString(s, "$1 $2")
}
