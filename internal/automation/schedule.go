package automation

import (
	"strconv"
	"strings"
	"time"

	"github.com/replyloop/backend/internal/models"
)

// ScheduleAllows reports whether the automation's schedule window permits
// firing at the given time. A disabled schedule always allows. A malformed
// time boundary counts as a configuration error and the automation is
// skipped (returns false).
func ScheduleAllows(cfg models.AutomationConfig, now time.Time) bool {
	if !cfg.ScheduleEnabled {
		return true
	}

	if len(cfg.ScheduleDays) > 0 {
		day := strings.ToLower(now.Format("Mon"))
		found := false
		for _, d := range cfg.ScheduleDays {
			if strings.ToLower(strings.TrimSpace(d)) == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if cfg.ScheduleStartTime == "" && cfg.ScheduleEndTime == "" {
		return true
	}
	start, ok := parseHHMM(cfg.ScheduleStartTime)
	if !ok {
		return false
	}
	end, ok := parseHHMM(cfg.ScheduleEndTime)
	if !ok {
		return false
	}
	cur := now.Hour()*100 + now.Minute()

	if start <= end {
		return cur >= start && cur <= end
	}
	// Window wraps midnight: eligible outside (end, start).
	return cur >= start || cur <= end
}

// parseHHMM converts "HH:MM" to an integer on the HHMM scale (e.g. "09:30"
// -> 930). Returns ok=false for anything malformed or out of range.
func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*100 + m, true
}
