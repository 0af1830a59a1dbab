package llm

import (
	"context"
	"errors"
	"strings"
)

var ErrUnavailable = errors.New("llm unavailable")

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image_url"
)

// Part is one element of a multipart turn. Text is set for PartText,
// ImageURL for PartImage.
type Part struct {
	Kind     PartKind
	Text     string
	ImageURL string
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func ImagePart(url string) Part {
	return Part{Kind: PartImage, ImageURL: url}
}

// Turn is one chat message sent to the model. Its content is either Text or,
// when Parts is non-empty, the parts. MessageID links the turn back to the
// stored chat message it came from; it is never sent upstream.
type Turn struct {
	Role      Role
	Text      string
	Parts     []Part
	MessageID int
}

func (t Turn) IsMultipart() bool {
	return len(t.Parts) > 0
}

// PlainText joins every text the turn carries, ignoring images.
func (t Turn) PlainText() string {
	if !t.IsMultipart() {
		return t.Text
	}
	texts := make([]string, 0, len(t.Parts))
	for _, part := range t.Parts {
		if part.Kind == PartText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type ModelKind string

const (
	ModelChat      ModelKind = "chat"
	ModelReasoning ModelKind = "reasoning"
)

// ModelProfile carries the capabilities of the configured model so the core
// never reads the environment.
type ModelProfile struct {
	Name            string
	Kind            ModelKind
	SupportsImages  bool
	ReasoningEffort string
}

func (p ModelProfile) IsReasoning() bool {
	return p.Kind == ModelReasoning
}

type Request struct {
	Turns       []Turn
	MaxTokens   int
	Temperature float64
}

type Completer interface {
	Complete(ctx context.Context, request Request) (string, error)
}
