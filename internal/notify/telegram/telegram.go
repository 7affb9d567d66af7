// Package telegram delivers notifications as Telegram bot messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Gateway sends to chat ids ("123456" or "tg:123456"). The bot never polls; it
// only calls sendMessage.
type Gateway struct {
	bot sender
}

func New(token string) (*Gateway, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: token, Offline: true})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Gateway{bot: b}, nil
}

func (g *Gateway) Send(ctx context.Context, address, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(address, "tg:")), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", address, err)
	}
	text := "<b>" + html.EscapeString(subject) + "</b>\n" + html.EscapeString(body)
	if _, err := g.bot.Send(&tele.Chat{ID: id}, text, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
