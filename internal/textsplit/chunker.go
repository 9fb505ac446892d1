// Package textsplit splits oversized outbound text to per-platform limits.
package textsplit

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Per-platform maximum message lengths.
const (
	TelegramMax = 4096
	DiscordMax  = 2000
	WhatsAppMax = 65536
	SlackMax    = 40000
)

// MaxFor returns the outbound text limit for a channel type, or fallback
// when the type is unknown.
func MaxFor(channelType string, fallback int) int {
	switch channelType {
	case "telegram":
		return TelegramMax
	case "discord":
		return DiscordMax
	case "whatsapp":
		return WhatsAppMax
	case "slack":
		return SlackMax
	}
	if fallback > 0 {
		return fallback
	}
	return TelegramMax
}

// BreakLevel selects how fine-grained break points may be. Coarser levels
// are always preferred; the hard cut is the universal fallback.
type BreakLevel int

const (
	BreakParagraph BreakLevel = iota + 1 // blank-line breaks only
	BreakSentence                        // paragraph, then sentence
	BreakWord                            // paragraph, sentence, newline, word
)

// ParseBreakLevel maps a config string to a BreakLevel, defaulting to word.
func ParseBreakLevel(s string) BreakLevel {
	switch s {
	case "paragraph":
		return BreakParagraph
	case "sentence":
		return BreakSentence
	default:
		return BreakWord
	}
}

// sentenceBreak matches a sentence end followed by a capital letter. The cut
// point is just before the capital.
var sentenceBreak = regexp.MustCompile(`[.!?]\s+[A-Z]`)

// minBreakRatio rejects boundaries in the first 30% of the window so a
// paragraph break near the start cannot produce a tiny chunk.
const minBreakRatio = 0.3

// Chunk splits text into ordered non-empty pieces, each at most max bytes,
// whose concatenation equals text. Break preference: paragraph, sentence,
// bare newline, word boundary, hard cut.
func Chunk(text string, max int) []string {
	if text == "" {
		return nil
	}
	if max <= 0 || len(text) <= max {
		return []string{text}
	}

	var chunks []string
	rest := text
	for len(rest) > max {
		cut := BreakPoint(rest, max, BreakWord)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// BreakPoint finds the best cut position in s, 0 < cut <= max < len(s),
// honoring the given break level.
func BreakPoint(s string, max int, level BreakLevel) int {
	minCut := int(float64(max) * minBreakRatio)
	if minCut < 1 {
		minCut = 1
	}
	window := s[:max]

	// Paragraph break: cut after the blank line.
	if idx := strings.LastIndex(window, "\n\n"); idx >= 0 {
		if cut := idx + 2; cut >= minCut && cut <= max {
			return cut
		}
	}

	if level >= BreakSentence {
		// Sentence break: cut before the capital that starts the next
		// sentence. The capital may sit exactly at max, so search one byte
		// beyond the window.
		searchEnd := max + 1
		if searchEnd > len(s) {
			searchEnd = len(s)
		}
		var sentenceCut int
		for _, m := range sentenceBreak.FindAllStringIndex(s[:searchEnd], -1) {
			if cut := m[1] - 1; cut >= minCut && cut <= max {
				sentenceCut = cut
			}
		}
		if sentenceCut > 0 {
			return sentenceCut
		}
	}

	if level >= BreakWord {
		// Bare newline: cut after it.
		if idx := strings.LastIndexByte(window, '\n'); idx >= 0 {
			if cut := idx + 1; cut >= minCut && cut <= max {
				return cut
			}
		}

		// Word boundary: cut after the last whitespace rune.
		if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx >= 0 {
			_, size := utf8.DecodeRuneInString(window[idx:])
			if cut := idx + size; cut >= minCut && cut <= max {
				return cut
			}
		}
	}

	// Hard cut, backed off to a rune boundary.
	cut := max
	for cut > 1 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}
