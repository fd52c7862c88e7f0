package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// messageSender is the subset of *messaging.Client used here.
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMGateway sends data-only, high priority messages through Firebase Cloud Messaging.
type FCMGateway struct {
	client messageSender
	logger *zap.Logger
}

// NewFCMGateway initializes the Firebase app from a service-account file.
func NewFCMGateway(ctx context.Context, credentialsFile, projectID string, logger *zap.Logger) (*FCMGateway, error) {
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting Messaging client: %w", err)
	}

	return &FCMGateway{client: client, logger: logger}, nil
}

func (g *FCMGateway) Send(ctx context.Context, address string, data map[string]string) error {
	if address == "" {
		return ErrNoAddress
	}

	msg := &messaging.Message{
		Token: address,
		Data:  data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	id, err := g.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}

	g.logger.Debug("fcm message accepted", zap.String("message_id", id), zap.String("action", data["action"]))
	return nil
}
