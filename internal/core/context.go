package core

import (
	"fmt"
	"strings"

	"github.com/rethoric/rethoric/internal/llm"
	"github.com/rethoric/rethoric/internal/store"
)

type Stage string

const (
	StageOpening      Stage = "opening"
	StageExploring    Stage = "exploring"
	StageDeepening    Stage = "deepening"
	StageSynthesizing Stage = "synthesizing"
)

// StageFor derives the conversation stage from its message count.
func StageFor(messageCount int) Stage {
	switch {
	case messageCount < 2:
		return StageOpening
	case messageCount < 5:
		return StageExploring
	case messageCount < 8:
		return StageDeepening
	default:
		return StageSynthesizing
	}
}

var stageGuidance = map[Stage]string{
	StageOpening:      "Help the user unpack the question and state an initial position.",
	StageExploring:    "Probe the assumptions behind the user's position and ask for supporting reasons.",
	StageDeepening:    "Introduce counterarguments and edge cases the user has not considered.",
	StageSynthesizing: "Guide the user toward summarising what they have learned and where their view changed.",
}

type QuestionContext struct {
	Title       string
	Description string
	Tags        []string
}

// ConversationContext is everything the generator needs to prompt the
// provider for one turn.
type ConversationContext struct {
	Question QuestionContext
	Messages []llm.Turn
	Stage    Stage
}

func buildConversationContext(q *store.Question, messages []store.Message) *ConversationContext {
	cc := &ConversationContext{
		Messages: make([]llm.Turn, 0, len(messages)),
		Stage:    StageFor(len(messages)),
	}
	if q != nil {
		cc.Question = QuestionContext{Title: q.Title, Description: q.Description, Tags: q.Tags}
	}
	for _, m := range messages {
		cc.Messages = append(cc.Messages, llm.Turn{Role: string(m.Role), Content: m.Content})
	}
	return cc
}

// SystemInstruction combines the persona with the topic and stage blocks.
func (cc *ConversationContext) SystemInstruction(persona string) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\nCurrent topic:\n")
	if cc.Question.Title != "" {
		fmt.Fprintf(&b, "Question: %s\n", cc.Question.Title)
	}
	if cc.Question.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", cc.Question.Description)
	}
	if len(cc.Question.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(cc.Question.Tags, ", "))
	}
	fmt.Fprintf(&b, "\nConversation stage: %s. %s", cc.Stage, stageGuidance[cc.Stage])
	return b.String()
}

// Turns returns the history followed by the new user turn. The user turn is
// not repeated when the history already ends with it.
func (cc *ConversationContext) Turns(userMessage string) []llm.Turn {
	turns := make([]llm.Turn, 0, len(cc.Messages)+1)
	turns = append(turns, cc.Messages...)
	userMessage = strings.TrimSpace(userMessage)
	if n := len(turns); n > 0 && turns[n-1].Role == llm.RoleUser && turns[n-1].Content == userMessage {
		return turns
	}
	return append(turns, llm.Turn{Role: llm.RoleUser, Content: userMessage})
}
