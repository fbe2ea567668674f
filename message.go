package agentpod

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ContentPart is one piece of a multi-modal message. The concrete types are
// TextContent and ImageContent.
type ContentPart interface {
	PartKind() string
	toOpenAI() openai.ChatMessagePart
}

// TextContent is a text fragment of a multi-part message.
type TextContent struct {
	Text string
}

// PartKind implements ContentPart.
func (TextContent) PartKind() string { return "text" }

func (t TextContent) toOpenAI() openai.ChatMessagePart {
	return openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: t.Text}
}

// ImageContent references an image by URL. Data URLs are accepted as long as
// the backend accepts them.
type ImageContent struct {
	URL string
	// Detail is "low", "high" or "auto"; empty lets the backend decide.
	Detail string
}

// PartKind implements ContentPart.
func (ImageContent) PartKind() string { return "image" }

func (i ImageContent) toOpenAI() openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    i.URL,
			Detail: openai.ImageURLDetail(i.Detail),
		},
	}
}

// Message is one conversation turn. It carries either plain text or an
// ordered list of content parts, never both. Messages are immutable once
// built.
type Message struct {
	role  Role
	text  string
	parts []ContentPart
}

// NewMessage builds a plain-text message.
func NewMessage(role Role, text string) Message {
	return Message{role: role, text: text}
}

// NewMultipartMessage builds a message from content parts, preserving order.
func NewMultipartMessage(role Role, parts ...ContentPart) Message {
	cp := make([]ContentPart, len(parts))
	copy(cp, parts)
	return Message{role: role, parts: cp}
}

// UserMessage is shorthand for NewMessage(RoleUser, text).
func UserMessage(text string) Message { return NewMessage(RoleUser, text) }

// SystemMessage is shorthand for NewMessage(RoleSystem, text).
func SystemMessage(text string) Message { return NewMessage(RoleSystem, text) }

// AssistantMessage is shorthand for NewMessage(RoleAssistant, text).
func AssistantMessage(text string) Message { return NewMessage(RoleAssistant, text) }

// Role returns the author of the message.
func (m Message) Role() Role { return m.role }

// IsMultipart reports whether the message was built from content parts.
func (m Message) IsMultipart() bool { return m.parts != nil }

// Parts returns a copy of the content parts, or nil for a plain-text message.
func (m Message) Parts() []ContentPart {
	if m.parts == nil {
		return nil
	}
	cp := make([]ContentPart, len(m.parts))
	copy(cp, m.parts)
	return cp
}

// Text returns the message text. For multi-part messages the text parts are
// joined with newlines and image parts are skipped.
func (m Message) Text() string {
	if m.parts == nil {
		return m.text
	}
	var texts []string
	for _, p := range m.parts {
		if t, ok := p.(TextContent); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Validate checks the role and that the message has some content.
func (m Message) Validate() error {
	if !m.role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, m.role)
	}
	if m.parts == nil {
		if strings.TrimSpace(m.text) == "" {
			return ErrEmptyContent
		}
		return nil
	}
	if len(m.parts) == 0 {
		return ErrEmptyContent
	}
	for i, p := range m.parts {
		switch v := p.(type) {
		case TextContent:
			if strings.TrimSpace(v.Text) == "" {
				return fmt.Errorf("part %d: %w", i, ErrEmptyContent)
			}
		case ImageContent:
			if strings.TrimSpace(v.URL) == "" {
				return fmt.Errorf("part %d: image url: %w", i, ErrEmptyContent)
			}
		case nil:
			return fmt.Errorf("part %d: %w", i, ErrEmptyContent)
		}
	}
	return nil
}

func (m Message) toOpenAI() openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: string(m.role)}
	if m.parts == nil {
		msg.Content = m.text
		return msg
	}
	msg.MultiContent = make([]openai.ChatMessagePart, 0, len(m.parts))
	for _, p := range m.parts {
		msg.MultiContent = append(msg.MultiContent, p.toOpenAI())
	}
	return msg
}

func validateMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return ErrNoMessages
	}
	for i, m := range msgs {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}
