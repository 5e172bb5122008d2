package automation

import (
	"fmt"
	"strings"

	"github.com/replyloop/backend/internal/models"
)

// ValidationError distinguishes user-input problems (400) from everything
// else (500) at the handler boundary.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Msg)
}

func invalid(field, msg string) error { return &ValidationError{Field: field, Msg: msg} }

var validDays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true, "sun": true,
}

// ValidateConfig checks a config blob against its automation type at write
// time, so the dispatch path never has to read the config defensively.
func ValidateConfig(automationType string, cfg models.AutomationConfig) error {
	switch automationType {
	case models.AutomationCommentToDM:
		if len(cfg.Keywords) == 0 {
			return invalid("keywords", "at least one keyword is required")
		}
		if strings.TrimSpace(cfg.MessageTemplate) == "" {
			return invalid("messageTemplate", "message template is required")
		}
		if cfg.FollowersOnly && strings.TrimSpace(cfg.FallbackCommentMessage) == "" {
			return invalid("fallbackCommentMessage", "required when followersOnly is set")
		}
	case models.AutomationAutoDMReply, models.AutomationMentionReply:
		if strings.TrimSpace(cfg.MessageTemplate) == "" {
			return invalid("messageTemplate", "message template is required")
		}
		if cfg.MediaID != "" {
			return invalid("mediaId", "media filter only applies to comment_to_dm")
		}
	case models.AutomationWelcome:
		if strings.TrimSpace(cfg.MessageTemplate) == "" {
			return invalid("messageTemplate", "message template is required")
		}
		if cfg.CooldownHours < 0 {
			return invalid("cooldownHours", "must not be negative")
		}
	case models.AutomationStoryReaction:
		if strings.TrimSpace(cfg.MessageTemplate) == "" {
			return invalid("messageTemplate", "message template is required")
		}
		if len(cfg.Keywords) > 0 || len(cfg.TriggerWords) > 0 {
			return invalid("keywords", "story_reaction has no keyword dimension")
		}
	default:
		return invalid("type", fmt.Sprintf("unknown automation type %q", automationType))
	}

	if cfg.DelaySeconds < 0 {
		return invalid("delaySeconds", "must not be negative")
	}
	if cfg.DelaySeconds > 300 {
		return invalid("delaySeconds", "must be 300 or less")
	}
	for i, l := range cfg.Links {
		if strings.TrimSpace(l.URL) == "" {
			return invalid(fmt.Sprintf("links[%d].url", i), "url is required")
		}
	}

	if cfg.ScheduleEnabled {
		for _, d := range cfg.ScheduleDays {
			if !validDays[strings.ToLower(strings.TrimSpace(d))] {
				return invalid("scheduleDays", fmt.Sprintf("unknown day %q", d))
			}
		}
		if cfg.ScheduleStartTime != "" || cfg.ScheduleEndTime != "" {
			if _, ok := parseHHMM(cfg.ScheduleStartTime); !ok {
				return invalid("scheduleStartTime", "must be HH:MM")
			}
			if _, ok := parseHHMM(cfg.ScheduleEndTime); !ok {
				return invalid("scheduleEndTime", "must be HH:MM")
			}
		}
	}
	return nil
}
