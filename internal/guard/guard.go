// Package guard classifies inbound message batches before any model call:
// oversized or link-carrying messages, verbatim loops, prompt-injection
// attempts, and phrasing that needs a human. Classification is stateless;
// rate ceilings live in the usage package.
package guard

import (
	"regexp"
	"strings"
)

// Message is one turn of the batch under classification.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Decision is the outcome for one message batch. Derived per batch, never
// persisted.
type Decision struct {
	Reject            bool   `json:"reject"`
	Message           string `json:"message,omitempty"`
	ResetConversation bool   `json:"reset_conversation,omitempty"`
	HumanTakeover     bool   `json:"human_takeover,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// Limits are the tunable classification thresholds. Heuristics with no
// deeper rationale than field experience, so they are configuration, not
// constants.
type Limits struct {
	// MaxMessageChars rejects any longer user message regardless of content.
	MaxMessageChars int
	// RepeatLimit rejects when the same user text arrives this many times
	// consecutively.
	RepeatLimit int
	// BlockScore is the injection score at which a message is blocked.
	BlockScore float64
}

// DefaultLimits mirror the configuration defaults.
func DefaultLimits() Limits {
	return Limits{MaxMessageChars: 500, RepeatLimit: 3, BlockScore: 0.7}
}

const tooLongReply = "That message is a bit too long for me. Could you shorten it to the essentials?"

const linkReply = "For safety I can't follow links here. Tell me in your own words how I can help with an appointment."

const loopReply = "It looks like we're going in circles. Let's start over — how can I help you today?"

const blockedReply = "I'm here to help you with appointment scheduling and questions about the clinic. How can I assist you today?"

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://|\bwww\.[a-z0-9-]+\.[a-z]{2,}`)

// Classify inspects the batch's last user message and the session history.
// It never blocks on takeover signals alone: those notify the clinic owner
// while the conversation continues.
func Classify(batch []Message, lim Limits) Decision {
	if lim.MaxMessageChars <= 0 {
		lim.MaxMessageChars = DefaultLimits().MaxMessageChars
	}
	if lim.RepeatLimit <= 0 {
		lim.RepeatLimit = DefaultLimits().RepeatLimit
	}
	if lim.BlockScore <= 0 {
		lim.BlockScore = DefaultLimits().BlockScore
	}

	last := lastUserMessage(batch)
	if last == "" {
		return Decision{}
	}

	takeover := DetectTakeover(last)

	if len([]rune(last)) > lim.MaxMessageChars {
		return Decision{Reject: true, Message: tooLongReply, HumanTakeover: takeover, Reason: "too_long"}
	}
	if urlPattern.MatchString(last) {
		return Decision{Reject: true, Message: linkReply, HumanTakeover: takeover, Reason: "url"}
	}
	if countTrailingRepeats(batch, last) >= lim.RepeatLimit {
		return Decision{Reject: true, Message: loopReply, ResetConversation: true, HumanTakeover: takeover, Reason: "loop"}
	}
	if score := injectionScore(last); score >= lim.BlockScore {
		return Decision{Reject: true, Message: blockedReply, HumanTakeover: takeover, Reason: "injection"}
	}

	return Decision{HumanTakeover: takeover}
}

func lastUserMessage(batch []Message) string {
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Role == "user" {
			return strings.TrimSpace(batch[i].Content)
		}
	}
	return ""
}

// countTrailingRepeats counts how many consecutive user messages at the end
// of the session equal the last one, verbatim after trimming.
func countTrailingRepeats(batch []Message, last string) int {
	count := 0
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].Role != "user" {
			continue
		}
		if strings.TrimSpace(batch[i].Content) != last {
			break
		}
		count++
	}
	return count
}
