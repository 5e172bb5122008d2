// Package dispatch delivers automation replies through the Graph API with
// explicit, ordered fallback strategies. Each flow builds its strategy list
// up front; the runner stops at the first success and aggregates every
// failure into the outcome so one automation's delivery trouble never
// escapes to its siblings.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/replyloop/backend/internal/automation"
	"github.com/replyloop/backend/internal/instagram"
	"github.com/replyloop/backend/internal/models"
)

// Sender is the messaging capability of the Graph client. It is an interface
// so tests can drive the fallback chains without network calls.
type Sender interface {
	SendText(ctx context.Context, senderID, token, recipientID, text string) error
	SendButtons(ctx context.Context, senderID, token, recipientID, text string, buttons []instagram.Button) error
	SendPrivateReply(ctx context.Context, senderID, token, commentID, text string) error
	ReplyToComment(ctx context.Context, token, commentID, text string) error
}

// Strategy is one delivery attempt in an ordered chain.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// Outcome records how a delivery ended. Err holds the aggregated attempt
// errors when nothing succeeded.
type Outcome struct {
	Delivered bool
	Channel   string
	Err       string
}

type Dispatcher struct {
	Sender Sender
	Logger *log.Logger
}

func New(sender Sender) *Dispatcher {
	return &Dispatcher{Sender: sender, Logger: log.Default()}
}

func (d *Dispatcher) logger() *log.Logger {
	if d.Logger == nil {
		return log.Default()
	}
	return d.Logger
}

// run executes strategies in order, stopping at the first success.
func (d *Dispatcher) run(ctx context.Context, tag string, strategies []Strategy) Outcome {
	if len(strategies) == 0 {
		return Outcome{Err: "no_delivery_strategy"}
	}
	var errs []string
	for _, s := range strategies {
		if err := s.Run(ctx); err != nil {
			d.logger().Printf("[Dispatch] %s attempt=%s failed err=%v", tag, s.Name, err)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		return Outcome{Delivered: true, Channel: s.Name}
	}
	return Outcome{Err: strings.Join(errs, "; ")}
}

// sendAuth picks the endpoint and token for message sends: the business-id
// endpoint with the page token when both are available, otherwise the
// account's own token against the generic "me" endpoint.
func sendAuth(acct models.Account) (senderID, token string) {
	if acct.IGBusinessID != nil && *acct.IGBusinessID != "" && acct.PageToken != nil && *acct.PageToken != "" {
		return *acct.IGBusinessID, *acct.PageToken
	}
	return "me", acct.AccessToken
}

// PrivateReply handles the comment-to-dm flow: a private reply keyed by
// comment id. The comment id is the only addressing handle, so there is no
// generic-DM fallback; a followers-only automation with a fallback template
// gets a public comment reply instead when the private reply is rejected.
// Private replies carry no button payload, so every configured link rides
// the text block. The public fallback comment stays link-free.
func (d *Dispatcher) PrivateReply(ctx context.Context, acct models.Account, cfg models.AutomationConfig, commentID, text string, fallbackComment string) Outcome {
	senderID, token := sendAuth(acct)
	text += automation.RenderLinks(cfg.Links)

	strategies := []Strategy{{
		Name: "private_reply",
		Run: func(ctx context.Context) error {
			return d.Sender.SendPrivateReply(ctx, senderID, token, commentID, text)
		},
	}}
	if cfg.FollowersOnly && strings.TrimSpace(fallbackComment) != "" {
		strategies = append(strategies, Strategy{
			Name: "fallback_comment_reply",
			Run: func(ctx context.Context) error {
				return d.Sender.ReplyToComment(ctx, acct.AccessToken, commentID, fallbackComment)
			},
		})
	}
	return d.run(ctx, "private_reply commentId="+commentID, strategies)
}

// DirectMessage handles DM-based flows (auto replies, mentions, story
// reactions, scheduled messages). Button links ride a rich payload first and
// are dropped to a plain-text retry on failure; links render as a text block
// whenever the button path is not used.
func (d *Dispatcher) DirectMessage(ctx context.Context, acct models.Account, recipientID, text string, links []models.Link) Outcome {
	senderID, token := sendAuth(acct)

	buttons := make([]instagram.Button, 0, len(links))
	var textLinks []models.Link
	for _, l := range links {
		if l.IsButton && strings.TrimSpace(l.URL) != "" {
			buttons = append(buttons, instagram.Button{Title: l.Label, URL: l.URL})
		} else {
			textLinks = append(textLinks, l)
		}
	}
	plainText := text + automation.RenderLinks(append(textLinks, buttonOnly(links)...))

	var strategies []Strategy
	if len(buttons) > 0 {
		withBlock := text + automation.RenderLinks(textLinks)
		strategies = append(strategies, Strategy{
			Name: "dm_buttons",
			Run: func(ctx context.Context) error {
				return d.Sender.SendButtons(ctx, senderID, token, recipientID, withBlock, buttons)
			},
		})
	}
	strategies = append(strategies, Strategy{
		Name: "dm_text",
		Run: func(ctx context.Context) error {
			return d.Sender.SendText(ctx, senderID, token, recipientID, plainText)
		},
	})
	return d.run(ctx, "direct_message recipient="+recipientID, strategies)
}

// CommentReply posts a public reply under a comment; the client retries a
// 4xx once against the alternate Graph host.
func (d *Dispatcher) CommentReply(ctx context.Context, acct models.Account, commentID, text string) Outcome {
	strategies := []Strategy{{
		Name: "comment_reply",
		Run: func(ctx context.Context) error {
			return d.Sender.ReplyToComment(ctx, acct.AccessToken, commentID, text)
		},
	}}
	return d.run(ctx, "comment_reply commentId="+commentID, strategies)
}

// buttonOnly returns the button links so the plain-text retry still carries
// their URLs after the rich payload is dropped.
func buttonOnly(links []models.Link) []models.Link {
	var out []models.Link
	for _, l := range links {
		if l.IsButton && strings.TrimSpace(l.URL) != "" {
			out = append(out, l)
		}
	}
	return out
}
