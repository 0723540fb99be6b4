// Package fcm delivers notify messages through the Firebase Cloud
// Messaging HTTP v1 API.
package fcm

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/time/rate"
	fcmapi "google.golang.org/api/fcm/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/AlexKimmel/aiproxy/internal/notify"
)

type Config struct {
	ProjectID       string
	CredentialsFile string // empty uses application default credentials
	PerSecond       int    // outbound send pacing, <=0 means unpaced
}

// Sender implements notify.Sender. The v1 API takes one token per call;
// fan-out concurrency is the caller's business, pacing is ours.
type Sender struct {
	svc     *fcmapi.Service
	parent  string
	limiter *rate.Limiter
}

var _ notify.Sender = (*Sender)(nil)

func New(ctx context.Context, cfg Config, extra ...option.ClientOption) (*Sender, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project id is required for fcm")
	}

	opts := []option.ClientOption{option.WithScopes(fcmapi.FirebaseMessagingScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, extra...)

	svc, err := fcmapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm client: %w", err)
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.PerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.PerSecond), cfg.PerSecond)
	}

	return &Sender{
		svc:     svc,
		parent:  "projects/" + cfg.ProjectID,
		limiter: lim,
	}, nil
}

func (s *Sender) Send(ctx context.Context, m notify.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &fcmapi.SendMessageRequest{Message: Build(m)}
	if _, err := s.svc.Projects.Messages.Send(s.parent, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}

// Build maps a notify.Message onto the v1 wire message, carrying the
// delivery hints to both the android and apns blocks.
func Build(m notify.Message) *fcmapi.Message {
	msg := &fcmapi.Message{
		Token: m.Token,
		Notification: &fcmapi.Notification{
			Title: m.Title,
			Body:  m.Body,
		},
		Data: m.Data,
	}

	android := &fcmapi.AndroidConfig{Priority: "NORMAL"}
	apnsPriority := "5"
	if m.Hints.Priority == "high" {
		android.Priority = "HIGH"
		apnsPriority = "10"
	}
	if m.Hints.ChannelID != "" || m.Hints.Sound != "" {
		android.Notification = &fcmapi.AndroidNotification{
			ChannelId: m.Hints.ChannelID,
			Sound:     m.Hints.Sound,
		}
	}
	msg.Android = android

	aps := map[string]any{}
	if m.Hints.Sound != "" {
		aps["sound"] = m.Hints.Sound
	}
	payload, _ := json.Marshal(map[string]any{"aps": aps})
	msg.Apns = &fcmapi.ApnsConfig{
		Headers: map[string]string{"apns-priority": apnsPriority},
		Payload: googleapi.RawMessage(payload),
	}
	return msg
}
