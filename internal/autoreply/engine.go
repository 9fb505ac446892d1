// Package autoreply matches inbound messages against configured templates
// and renders canned responses before the Agent is involved.
package autoreply

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/config"
)

// Match is a successful template hit.
type Match struct {
	Template    string
	Response    string
	ForwardToAI bool
}

// Engine evaluates templates in descending priority order; the first
// matching template wins. Safe for concurrent use.
type Engine struct {
	mu        sync.RWMutex
	enabled   bool
	templates []config.AutoReplyTemplate
	regexes   map[string]*regexp.Regexp
	lastFired map[string]time.Time // template|channel|sender → last fire
	firedOnce map[string]bool
	now       func() time.Time
}

// New builds an engine from config. Templates with invalid regexes are
// skipped with a log.
func New(cfg config.AutoReplyConfig) *Engine {
	e := &Engine{
		lastFired: make(map[string]time.Time),
		firedOnce: make(map[string]bool),
		now:       time.Now,
	}
	e.SetTemplates(cfg)
	return e
}

// SetTemplates swaps the template set, keeping cooldown and once state.
func (e *Engine) SetTemplates(cfg config.AutoReplyConfig) {
	templates := make([]config.AutoReplyTemplate, 0, len(cfg.Templates))
	regexes := make(map[string]*regexp.Regexp)
	for _, tpl := range cfg.Templates {
		if tpl.Trigger == "regex" {
			re, err := regexp.Compile("(?i)" + tpl.Pattern)
			if err != nil {
				log.Warn().Str("template", tpl.Name).Err(err).Msg("invalid auto-reply regex, skipping template")
				continue
			}
			regexes[tpl.Name] = re
		}
		templates = append(templates, tpl)
	}
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].Priority > templates[j].Priority
	})

	e.mu.Lock()
	e.enabled = cfg.Enabled
	e.templates = templates
	e.regexes = regexes
	e.mu.Unlock()
}

// Match returns the winning template for msg, if any. Cooldowns and once
// flags are tracked per sender per template and consumed on match.
func (e *Engine) Match(msg bus.InboundMessage) (Match, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.enabled {
		return Match{}, false
	}

	now := e.now()
	for _, tpl := range e.templates {
		if !e.applies(tpl, msg) || !e.triggers(tpl, msg.Text, now) {
			continue
		}

		key := tpl.Name + "|" + msg.ChannelID + "|" + msg.SenderID
		if tpl.Once && e.firedOnce[key] {
			continue
		}
		if tpl.CooldownMs > 0 {
			if last, ok := e.lastFired[key]; ok && now.Sub(last) < time.Duration(tpl.CooldownMs)*time.Millisecond {
				continue
			}
		}

		e.lastFired[key] = now
		if tpl.Once {
			e.firedOnce[key] = true
		}
		return Match{
			Template:    tpl.Name,
			Response:    renderResponse(tpl.Response, msg, now),
			ForwardToAI: tpl.ForwardToAI,
		}, true
	}
	return Match{}, false
}

// applies checks the template's channel and chat-type filters.
func (e *Engine) applies(tpl config.AutoReplyTemplate, msg bus.InboundMessage) bool {
	if len(tpl.Channels) > 0 && !containsFold(tpl.Channels, msg.ChannelID) {
		return false
	}
	if len(tpl.ChatTypes) > 0 && !containsFold(tpl.ChatTypes, string(msg.ChatType)) {
		return false
	}
	return true
}

// triggers evaluates the template's trigger against the message text.
func (e *Engine) triggers(tpl config.AutoReplyTemplate, text string, now time.Time) bool {
	trimmed := strings.TrimSpace(text)
	switch tpl.Trigger {
	case "exact":
		return strings.EqualFold(trimmed, tpl.Pattern)
	case "regex":
		re := e.regexes[tpl.Name]
		return re != nil && re.MatchString(text)
	case "keyword":
		lower := strings.ToLower(text)
		for _, kw := range tpl.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case "command":
		name := tpl.Command
		if name == "" {
			name = tpl.Pattern
		}
		name = strings.TrimPrefix(name, "/")
		cmd := "/" + name
		return strings.EqualFold(trimmed, cmd) || hasCommandPrefix(trimmed, cmd)
	case "schedule":
		if len(tpl.Days) > 0 && !containsInt(tpl.Days, int(now.Weekday())) {
			return false
		}
		if len(tpl.Hours) == 2 {
			return hourInWindow(now.Hour(), tpl.Hours[0], tpl.Hours[1])
		}
		return len(tpl.Hours) == 0
	default:
		return false
	}
}

// hourInWindow handles [start,end) windows, including ones crossing midnight.
func hourInWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func hasCommandPrefix(text, cmd string) bool {
	if len(text) <= len(cmd) {
		return false
	}
	return strings.EqualFold(text[:len(cmd)], cmd) && text[len(cmd)] == ' '
}

// renderResponse substitutes the supported placeholders.
func renderResponse(response string, msg bus.InboundMessage, now time.Time) string {
	r := strings.NewReplacer(
		"{sender.name}", msg.SenderName,
		"{sender.id}", msg.SenderID,
		"{channel}", msg.ChannelID,
		"{time}", now.Format("15:04"),
		"{date}", now.Format("2006-01-02"),
	)
	return r.Replace(response)
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for debug logging.
func (e *Engine) String() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("autoreply.Engine{enabled=%v templates=%d}", e.enabled, len(e.templates))
}
