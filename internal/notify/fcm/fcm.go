// Package fcm delivers notifications as Firebase Cloud Messaging pushes.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

type messenger interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Gateway pushes to device tokens ("<token>" or "fcm:<token>").
type Gateway struct {
	client    messenger
	channelID string
}

func New(ctx context.Context, credentialsFile string) (*Gateway, error) {
	if strings.TrimSpace(credentialsFile) == "" {
		return nil, errors.New("fcm credentials file is empty")
	}
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return &Gateway{client: client, channelID: "medminder_reminders"}, nil
}

func (g *Gateway) Send(ctx context.Context, address, subject, body string) error {
	token := strings.TrimSpace(strings.TrimPrefix(address, "fcm:"))
	if token == "" {
		return errors.New("fcm device token is empty")
	}
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: subject,
			Body:  body,
		},
		Data: map[string]string{"type": "medminder"},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID:    g.channelID,
				Priority:     messaging.PriorityHigh,
				DefaultSound: true,
			},
		},
	}
	if _, err := g.client.Send(ctx, msg); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
