// Package knowledge holds the immutable question bank and resolves trivia
// prompts against it.
package knowledge

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"queuequiz.ai/internal/debuglog"
	"queuequiz.ai/internal/quiz/resolve"
)

// MatchMode selects how an entry's key is matched and how the option letter
// is extracted.
type MatchMode string

const (
	// ModeKeyword: key is a fragment of the question; the option is found by
	// scanning "<label>.<answer>".
	ModeKeyword MatchMode = "keyword"
	// ModeExact: key is the full question text; the option is the nearest
	// capital letter before the answer.
	ModeExact MatchMode = "exact"
)

func ParseMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeKeyword:
		return ModeKeyword, nil
	case ModeExact:
		return ModeExact, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

type Entry struct {
	Key    string    `json:"key"`
	Answer string    `json:"answer"`
	Mode   MatchMode `json:"mode,omitempty"`
}

// Match is a successful resolution.
type Match struct {
	Entry  Entry
	Letter string
}

// Base is safe for concurrent reads; it never changes after New.
type Base struct {
	entries     []Entry
	defaultMode MatchMode
	strategies  map[MatchMode]resolve.Strategy
	digest      string
	log         *zap.Logger
}

type Option func(*Base)

// WithDefaultMode sets the mode used by entries that do not name one.
func WithDefaultMode(m MatchMode) Option { return func(b *Base) { b.defaultMode = m } }

// WithLabels overrides the option labels of the keyword strategy.
func WithLabels(labels []string) Option {
	return func(b *Base) {
		if len(labels) > 0 {
			b.strategies[ModeKeyword] = resolve.Keyword{Labels: append([]string(nil), labels...)}
		}
	}
}

func WithLogger(l *zap.Logger) Option { return func(b *Base) { b.log = l } }

func withDigest(d string) Option { return func(b *Base) { b.digest = d } }

// New copies entries in order and validates them.
func New(entries []Entry, opts ...Option) (*Base, error) {
	b := &Base{
		defaultMode: ModeKeyword,
		strategies: map[MatchMode]resolve.Strategy{
			ModeKeyword: resolve.Keyword{},
			ModeExact:   resolve.NearestLetter{},
		},
	}
	for _, o := range opts {
		o(b)
	}
	b.log = debuglog.OrNop(b.log)
	if _, ok := b.strategies[b.defaultMode]; !ok {
		return nil, fmt.Errorf("unknown default match mode %q", b.defaultMode)
	}

	b.entries = make([]Entry, 0, len(entries))
	for i, e := range entries {
		if e.Key == "" || e.Answer == "" {
			return nil, fmt.Errorf("entry %d: empty key or answer", i)
		}
		if e.Mode == "" {
			e.Mode = b.defaultMode
		}
		if _, ok := b.strategies[e.Mode]; !ok {
			return nil, fmt.Errorf("entry %d (%s): unknown match mode %q", i, e.Key, e.Mode)
		}
		b.entries = append(b.entries, e)
	}
	if b.digest == "" {
		raw, _ := json.Marshal(b.entries)
		b.digest = sha256Hex(raw)
	}
	return b, nil
}

// Resolve walks entries in insertion order. The first entry whose key occurs
// in the prompt and whose extraction succeeds wins.
func (b *Base) Resolve(prompt string) (Match, bool) {
	for _, e := range b.entries {
		if !strings.Contains(prompt, e.Key) {
			continue
		}
		b.log.Debug("found matching question key", zap.String("key", e.Key), zap.String("expected", e.Answer), zap.String("mode", string(e.Mode)))
		letter, err := b.strategies[e.Mode].Extract(prompt, e.Key, e.Answer)
		if err == nil {
			b.log.Info("found matching answer", zap.String("key", e.Key), zap.String("option", letter))
			return Match{Entry: e, Letter: letter}, true
		}
		if e.Mode == ModeExact {
			b.log.Error("no option letter before answer", zap.String("key", e.Key), zap.Error(err), zap.String("prompt", prompt))
		} else {
			b.log.Warn("found matching question but no valid answer option", zap.String("key", e.Key), zap.String("prompt", prompt))
		}
	}
	return Match{}, false
}

func (b *Base) Len() int { return len(b.entries) }

// Entries returns a copy in resolution order.
func (b *Base) Entries() []Entry { return append([]Entry(nil), b.entries...) }

// Digest is the sha256 of the source files (or of the canonical entries).
func (b *Base) Digest() string { return b.digest }

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// concat joins file contents the way the digest is computed.
func concat(parts [][]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
