// Package telegram delivers fired reminders to per-owner Telegram chats.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/reminder"
	"remindd/internal/sink"
	"remindd/pkg/logx"
)

type Config struct {
	Token string

	// Recipients maps owner id -> chat ids. One dispatch fans out to all of
	// an owner's chats.
	Recipients map[string][]int64
}

type Sink struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sink) Dispatch(ctx context.Context, ownerID string, p reminder.Payload) (sink.Outcome, error) {
	chats := s.cfg.Recipients[ownerID]
	if len(chats) == 0 {
		return sink.Outcome{}, fmt.Errorf("no telegram recipients for owner %q", ownerID)
	}

	var out sink.Outcome
	for _, chatID := range chats {
		if err := ctx.Err(); err != nil {
			// Count the remaining recipients as failed rather than lying
			// about a partially delivered dispatch.
			out.Failed += len(chats) - out.Delivered - out.Failed
			return out, nil
		}
		if err := s.sendOne(chatID, p); err != nil {
			out.Failed++
			s.log.Warn("telegram send failed",
				logx.Int64("chat", chatID),
				logx.String("owner", ownerID),
				logx.String("id", p.ID),
				logx.Err(err))
			continue
		}
		out.Delivered++
	}
	return out, nil
}

func (s *Sink) sendOne(chatID int64, p reminder.Payload) error {
	to := tele.ChatID(chatID)
	text := renderText(p)

	if p.ImageRef != "" {
		photo := &tele.Photo{File: tele.FromURL(p.ImageRef), Caption: text}
		_, err := s.bot.Send(to, photo)
		return err
	}
	_, err := s.bot.Send(to, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func renderText(p reminder.Payload) string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Body != "" && p.Body != p.Title {
		b.WriteString("\n")
		b.WriteString(p.Body)
	}
	if p.Duration > 0 && p.Kind == reminder.KindAlarm {
		b.WriteString(fmt.Sprintf("\n(rings for %s)", time.Duration(p.Duration)*time.Second))
	}
	return b.String()
}
