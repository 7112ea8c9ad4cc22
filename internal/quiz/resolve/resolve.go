// Package resolve turns a recognized trivia prompt and an expected answer
// into the option letter to send back.
package resolve

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrAnswerAbsent means the expected answer text does not occur in the prompt.
	ErrAnswerAbsent = errors.New("expected answer not in prompt")
	// ErrNoOption means the answer was found but no option letter could be tied to it.
	ErrNoOption = errors.New("no option letter for answer")
)

// Strategy extracts an option letter from a prompt. Implementations are pure.
type Strategy interface {
	Extract(prompt, key, answer string) (string, error)
}

// DefaultLabels are the option labels used by the queue server.
var DefaultLabels = []string{"A", "B", "C"}

// Keyword looks for "<label>.<answer>" for each label in order and answers
// with the lowercase label.
type Keyword struct {
	Labels []string
}

func (k Keyword) Extract(prompt, _, answer string) (string, error) {
	labels := k.Labels
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	for _, l := range labels {
		if strings.Contains(prompt, l+"."+answer) {
			return strings.ToLower(l), nil
		}
	}
	return "", ErrNoOption
}

// NearestLetter finds the first occurrence of the answer and walks back to the
// closest uppercase Latin letter before it.
//
// Any capital letter in the text between the option label and the answer
// wins, so this is only reliable for prompts formatted as "<letter><sep><answer>".
type NearestLetter struct{}

func (NearestLetter) Extract(prompt, _, answer string) (string, error) {
	if answer == "" {
		return "", ErrAnswerAbsent
	}
	i := strings.Index(prompt, answer)
	if i < 0 {
		return "", ErrAnswerAbsent
	}
	for j := i; j > 0; {
		r, size := utf8.DecodeLastRuneInString(prompt[:j])
		if r >= 'A' && r <= 'Z' {
			return string(r), nil
		}
		j -= size
	}
	return "", ErrNoOption
}
