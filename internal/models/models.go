package models

import "time"

// Automation types. The welcome_message type is only evaluated when the
// WELCOME_MESSAGES_ENABLED feature gate is on; it stays a first-class config
// variant so stored automations survive the flag being toggled.
const (
	AutomationCommentToDM   = "comment_to_dm"
	AutomationAutoDMReply   = "auto_dm_reply"
	AutomationMentionReply  = "mention_reply"
	AutomationWelcome       = "welcome_message"
	AutomationStoryReaction = "story_reaction"
)

// Scheduled message statuses. A message reaches sent or failed exactly once
// and is never retried after failed.
const (
	ScheduledStatusPending = "pending"
	ScheduledStatusSent    = "sent"
	ScheduledStatusFailed  = "failed"
)

// PendingRecipientPrefix marks a scheduled-message recipient that still needs
// username -> ig user id resolution via follower records.
const PendingRecipientPrefix = "pending:"

type Account struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	IGUserID           string     `json:"igUserId"`
	IGBusinessID       *string    `json:"igBusinessId,omitempty"`
	Username           string     `json:"username"`
	AccessToken        string     `json:"-"`
	TokenExpiresAt     *time.Time `json:"tokenExpiresAt,omitempty"`
	PageToken          *string    `json:"-"`
	PageTokenExpiresAt *time.Time `json:"-"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type Link struct {
	Label    string `json:"label,omitempty"`
	URL      string `json:"url"`
	IsButton bool   `json:"isButton,omitempty"`
}

// AutomationConfig is the per-type configuration. It is a closed set of
// fields validated against the automation type at write time, then stored as
// JSONB. Field names match the persisted config keys.
type AutomationConfig struct {
	Keywords     []string `json:"keywords,omitempty"`     // comment_to_dm
	TriggerWords []string `json:"triggerWords,omitempty"` // auto_dm_reply / mention_reply; empty = match all

	MessageTemplate string `json:"messageTemplate"`
	MediaID         string `json:"mediaId,omitempty"` // comment_to_dm: restrict to one media
	Links           []Link `json:"links,omitempty"`
	DelaySeconds    int    `json:"delaySeconds,omitempty"`

	ScheduleEnabled   bool     `json:"scheduleEnabled,omitempty"`
	ScheduleDays      []string `json:"scheduleDays,omitempty"`
	ScheduleStartTime string   `json:"scheduleStartTime,omitempty"` // "HH:MM"
	ScheduleEndTime   string   `json:"scheduleEndTime,omitempty"`   // "HH:MM"

	FollowersOnly          bool   `json:"followersOnly,omitempty"`
	FallbackCommentMessage string `json:"fallbackCommentMessage,omitempty"`

	CommentReplyEnabled  bool   `json:"commentReplyEnabled,omitempty"`
	CommentReplyTemplate string `json:"commentReplyTemplate,omitempty"`

	CooldownHours int `json:"cooldownHours,omitempty"` // welcome_message
}

type Automation struct {
	ID              string           `json:"id"`
	AccountID       string           `json:"accountId"`
	Type            string           `json:"type"`
	Title           string           `json:"title"`
	Description     *string          `json:"description,omitempty"`
	Active          bool             `json:"active"`
	Config          AutomationConfig `json:"config"`
	TotalReplies    int64            `json:"totalReplies"`
	LastTriggeredAt *time.Time       `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type ScheduledMessage struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	AccountID    string     `json:"accountId"`
	Recipient    string     `json:"recipient"` // ig user id, or "pending:<username>"
	Message      string     `json:"message"`
	Links        []Link     `json:"links,omitempty"`
	ScheduledFor time.Time  `json:"scheduledFor"`
	Status       string     `json:"status"`
	Error        *string    `json:"error,omitempty"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type ActivityLog struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	AutomationID *string   `json:"automationId,omitempty"`
	Action       string    `json:"action"` // dm_sent, private_reply_sent, comment_reply_sent, delivery_failed, scheduled_sent, scheduled_failed
	TargetID     string    `json:"targetId"`
	Trigger      *string   `json:"trigger,omitempty"` // matched keyword, if any
	Detail       *string   `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProcessedComment is the durable idempotency record: at most one
// side-effecting delivery per (account, comment, automation).
type ProcessedComment struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId"`
	CommentID    string    `json:"commentId"`
	AutomationID string    `json:"automationId"`
	Action       string    `json:"action"`
	CreatedAt    time.Time `json:"createdAt"`
}

type FollowerRecord struct {
	ID            string     `json:"id"`
	AccountID     string     `json:"accountId"`
	IGUserID      string     `json:"igUserId"`
	Username      string     `json:"username"`
	IsFollowing   bool       `json:"isFollowing"`
	WelcomeSentAt *time.Time `json:"welcomeSentAt,omitempty"`
	FirstSeenAt   time.Time  `json:"firstSeenAt"`
	LastSeenAt    time.Time  `json:"lastSeenAt"`
}

// AutomationBackup holds the archived automations of a disconnected account,
// keyed by the external user id so a reconnect can restore them.
type AutomationBackup struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	IGUserID  string    `json:"igUserId"`
	Payload   []byte    `json:"-"` // JSON array of Automation
	CreatedAt time.Time `json:"createdAt"`
}
