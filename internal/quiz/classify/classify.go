// Package classify sorts sanitized chat lines into queue position updates,
// trivia prompts, or noise.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Markers used by the queue server's messages.
const (
	PositionMarker  = "position"
	QueueDelimiter  = "queue: "
	PromptSeparator = "丨"
)

type Kind int

const (
	Unrecognized Kind = iota
	PositionUpdate
	TriviaPrompt
)

func (k Kind) String() string {
	switch k {
	case PositionUpdate:
		return "position_update"
	case TriviaPrompt:
		return "trivia_prompt"
	default:
		return "unrecognized"
	}
}

// Message is one classified line. Payload is the queue position text for
// position updates and the whole line for trivia prompts.
type Message struct {
	Kind       Kind
	Text       string
	Payload    string
	HasPayload bool
}

var (
	colorCodeRE = regexp.MustCompile(`§[0-9a-fk-or]`)
	ansiRE      = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)
)

// Sanitize strips color-control sequences and surrounding whitespace.
func Sanitize(raw string) string {
	s := colorCodeRE.ReplaceAllString(raw, "")
	s = ansiRE.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Classify sanitizes raw and decides its kind. Trivia prompts are only
// recognized when armed is true.
func Classify(raw string, armed bool) Message {
	text := Sanitize(raw)
	if text == "" {
		return Message{Kind: Unrecognized}
	}
	if indexFold(text, PositionMarker) >= 0 {
		m := Message{Kind: PositionUpdate, Text: text}
		if i := indexFold(text, QueueDelimiter); i >= 0 {
			m.Payload = strings.TrimSpace(text[i+len(QueueDelimiter):])
			m.HasPayload = true
		}
		return m
	}
	if armed && strings.Contains(text, PromptSeparator) {
		return Message{Kind: TriviaPrompt, Text: text, Payload: text, HasPayload: true}
	}
	return Message{Kind: Unrecognized, Text: text}
}

// ParsePosition accepts a non-negative base-10 integer.
func ParsePosition(payload string) (int, error) {
	s := strings.TrimSpace(payload)
	if s == "" {
		return 0, fmt.Errorf("empty queue position")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("queue position %q is not a non-negative integer", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("queue position %q: %w", s, err)
	}
	return n, nil
}

// indexFold is strings.Index with ASCII case folding. Byte offsets stay
// valid for s, which strings.ToLower does not guarantee for non-ASCII text.
func indexFold(s, sub string) int {
	n := len(sub)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(s); i++ {
		j := 0
		for ; j < n; j++ {
			if lowerASCII(s[i+j]) != lowerASCII(sub[j]) {
				break
			}
		}
		if j == n {
			return i
		}
	}
	return -1
}

func lowerASCII(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}
