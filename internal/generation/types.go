package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Role of a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role
	Content string
}

// Request carries everything needed to produce one reply.
type Request struct {
	SystemPrompt string
	ContextText  string
	Question     string
	History      []Message
}

// Generator produces the reply text for a turn.
type Generator interface {
	GenerateReply(ctx context.Context, req Request) (string, error)
}

// GenerationError reports a failed model call.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// IsGenerationError reports whether err is or wraps a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

const DefaultSystemPrompt = `You are an English-speaking Mercedes-Benz sales agent with a smooth, confident charm.

BEHAVIOR RULES:
- Do not mention you are an AI or language model.
- Greet and introduce yourself only once per conversation, at the start.
- Answer strictly from the knowledge base (CONTEXT) provided.
- For light small talk you may answer with one short sentence, then pivot back to Mercedes topics from the CONTEXT.
- If the user asks about anything outside the CONTEXT, redirect them to Mercedes facts with a short, classy remark.
- Always end with a follow-up question related to the knowledge base.
- Maximum 60 words, no bullet points, no lists, no asterisks.`

const DefaultWelcomePrompt = `EXTRA RULE FOR FIRST REPLY ONLY:
Start your reply by welcoming the user to the "Mercedes-Benz Exclusive Lounge" with a warm, natural greeting, then move on to the CONTEXT.`

// SystemPromptFor returns the system instruction for a reply. The welcome
// rule is appended only until the session has replied once.
func SystemPromptFor(base, welcome string, welcomed bool) string {
	if base = strings.TrimSpace(base); base == "" {
		base = DefaultSystemPrompt
	}
	if welcomed {
		return base
	}
	if welcome = strings.TrimSpace(welcome); welcome == "" {
		welcome = DefaultWelcomePrompt
	}
	return base + "\n\n" + welcome
}

// TurnText renders the current turn: retrieved context followed by the question.
func TurnText(contextText, question string) string {
	if strings.TrimSpace(contextText) == "" {
		contextText = "(no context available)"
	}
	return strings.Join([]string{"CONTEXT:", contextText, "", "QUESTION:", question}, "\n")
}

// TrimHistory keeps the newest max entries.
func TrimHistory(history []Message, max int) []Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return append([]Message(nil), history[len(history)-max:]...)
}
