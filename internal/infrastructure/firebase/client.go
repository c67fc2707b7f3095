package firebase

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"finsync/internal/domain/institution"
	"finsync/internal/domain/openfinance"
)

const (
	relinkTitle = "Reconnect your bank"
	relinkBody  = "%s needs you to sign in again before it can sync."
)

// sender is the part of *messaging.Client the notifier needs.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client sends relink-required push notifications through Firebase Cloud Messaging.
// Each user's devices subscribe to the topic "user-<id>".
type Client struct {
	msgClient sender
	log       logrus.FieldLogger
}

var _ openfinance.RelinkNotifier = (*Client)(nil)

// NewClient initializes a Firebase app and returns an FCM client.
func NewClient(ctx context.Context, credentialsFile string, logger logrus.FieldLogger) (*Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	msgClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase messaging client: %w", err)
	}

	return &Client{msgClient: msgClient, log: logger}, nil
}

// UserTopic is the FCM topic of a user's devices.
func UserTopic(userID string) string {
	return "user-" + userID
}

// NotifyRelinkRequired tells the institution's owner to link it again.
func (c *Client) NotifyRelinkRequired(ctx context.Context, inst *institution.LinkedInstitution) error {
	name := inst.InstitutionName
	if name == "" {
		name = "Your bank"
	}

	msg := &messaging.Message{
		Topic: UserTopic(inst.UserID),
		Notification: &messaging.Notification{
			Title: relinkTitle,
			Body:  fmt.Sprintf(relinkBody, name),
		},
		Data: map[string]string{
			"type":           "relink_required",
			"institution_id": inst.ID,
		},
	}

	id, err := c.msgClient.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"institution_id": inst.ID,
		"user_id":        inst.UserID,
		"message_id":     id,
	}).Info("relink notification sent")
	return nil
}
