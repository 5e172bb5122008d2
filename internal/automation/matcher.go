package automation

import (
	"strings"
	"time"

	"github.com/replyloop/backend/internal/models"
)

// Event kinds produced by the webhook router.
const (
	EventComment  = "comment"
	EventMessage  = "message"
	EventReaction = "reaction"
)

// Event is one inbound occurrence decoded from a webhook payload. Comment
// events carry CommentID and MediaID; message and reaction events carry only
// the sender side.
type Event struct {
	Kind      string
	SenderID  string
	Username  string
	CommentID string
	MediaID   string
	Text      string
}

// Match pairs an automation with the keyword that triggered it (empty for
// match-all and reaction triggers).
type Match struct {
	Automation models.Automation
	Keyword    string
}

// Options control matcher behavior that depends on deployment configuration.
type Options struct {
	// IncludeWelcome makes welcome_message automations candidates for
	// message events. The per-sender cooldown is enforced by the caller,
	// which has access to follower records.
	IncludeWelcome bool
	// Now overrides the schedule clock in tests. Zero means time.Now().
	Now time.Time
}

// MatchAutomations returns, in input order, every active automation whose type
// matches the event category and whose trigger condition is satisfied. All
// matches fire independently; this is deliberate fan-out, not first-match.
func MatchAutomations(ev Event, automations []models.Automation, opts Options) []Match {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	var out []Match
	for _, a := range automations {
		if !a.Active {
			continue
		}
		if !typeMatchesEvent(a.Type, ev.Kind, opts.IncludeWelcome) {
			continue
		}
		if !ScheduleAllows(a.Config, now) {
			continue
		}

		switch ev.Kind {
		case EventComment:
			if a.Config.MediaID != "" && a.Config.MediaID != ev.MediaID {
				continue
			}
			kw, ok := matchKeyword(ev.Text, a.Config.Keywords)
			if !ok {
				continue
			}
			out = append(out, Match{Automation: a, Keyword: kw})
		case EventMessage:
			words := a.Config.TriggerWords
			if a.Type == models.AutomationWelcome {
				// Welcome messages greet any first contact.
				words = nil
			}
			if len(words) == 0 {
				out = append(out, Match{Automation: a})
				continue
			}
			kw, ok := matchKeyword(ev.Text, words)
			if !ok {
				continue
			}
			out = append(out, Match{Automation: a, Keyword: kw})
		case EventReaction:
			out = append(out, Match{Automation: a})
		}
	}
	return out
}

func typeMatchesEvent(automationType, eventKind string, includeWelcome bool) bool {
	switch eventKind {
	case EventComment:
		return automationType == models.AutomationCommentToDM
	case EventMessage:
		switch automationType {
		case models.AutomationAutoDMReply, models.AutomationMentionReply:
			return true
		case models.AutomationWelcome:
			return includeWelcome
		}
		return false
	case EventReaction:
		return automationType == models.AutomationStoryReaction
	}
	return false
}

// matchKeyword does a lower-cased substring test of each configured keyword
// against the text, returning the first keyword that matches.
func matchKeyword(text string, keywords []string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, kw := range keywords {
		k := strings.ToLower(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(lowered, k) {
			return kw, true
		}
	}
	return "", false
}
