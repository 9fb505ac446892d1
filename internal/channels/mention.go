package channels

import (
	"regexp"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/iris/internal/bus"
)

// mentionCache avoids recompiling the per-channel mention regex on every
// group message.
var (
	mentionMu    sync.Mutex
	mentionCache = map[string]*regexp.Regexp{}
)

func mentionRegexp(pattern, botID string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = `@` + regexp.QuoteMeta(botID) + `\b`
	}
	key := pattern
	mentionMu.Lock()
	defer mentionMu.Unlock()
	if re, ok := mentionCache[key]; ok {
		return re, nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	mentionCache[key] = re
	return re, nil
}

// ShouldProcessGroupMessage decides whether a message passes mention gating.
// DMs always pass. Group messages pass only when mention gating is off, or
// the text matches the custom pattern or the default @botID mention.
func ShouldProcessGroupMessage(msg bus.InboundMessage, requireMention bool, mentionPattern, botID string) bool {
	if msg.ChatType != bus.ChatGroup {
		return true
	}
	if !requireMention {
		return true
	}
	re, err := mentionRegexp(mentionPattern, botID)
	if err != nil {
		// Bad custom pattern: fall back to the default bot mention.
		re, _ = mentionRegexp("", botID)
	}
	return re.MatchString(msg.Text)
}

// spaceRuns collapses the doubled spaces a removed mention leaves behind
// without touching newlines; trailingSpace cleans up before line breaks.
var (
	spaceRuns     = regexp.MustCompile(`[ \t]{2,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// StripMention removes the mention from text before it is forwarded to the
// Agent, collapsing the whitespace it leaves behind.
func StripMention(text, mentionPattern, botID string) string {
	re, err := mentionRegexp(mentionPattern, botID)
	if err != nil {
		re, _ = mentionRegexp("", botID)
	}
	stripped := re.ReplaceAllString(text, "")
	stripped = spaceRuns.ReplaceAllString(stripped, " ")
	stripped = trailingSpace.ReplaceAllString(stripped, "\n")
	return strings.TrimSpace(stripped)
}
