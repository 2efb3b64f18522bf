package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trainbatch/pkg/models"

	"github.com/go-resty/resty/v2"
)

// Notifier posts a JSON summary of a finished run to a webhook URL. A nil
// Notifier is valid and does nothing, so callers don't have to branch on
// whether a webhook is configured.
type Notifier struct {
	client *resty.Client
}

func NewNotifier(webhookURL string) *Notifier {
	if webhookURL == "" {
		return nil
	}
	return &Notifier{
		client: resty.New().SetBaseURL(webhookURL).SetTimeout(30 * time.Second),
	}
}

func (n *Notifier) RunCompleted(ctx context.Context, run models.Run) {
	if n == nil {
		return
	}

	res, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(run).
		Post("")
	if err != nil {
		slog.Error("error posting run completion webhook", "run_id", run.Id, "error", err)
		return
	}

	if res.IsError() {
		slog.Error("run completion webhook rejected", "run_id", run.Id, "status", res.StatusCode())
		return
	}

	slog.Info("posted run completion webhook", "run_id", run.Id)
}

func (n *Notifier) String() string {
	if n == nil {
		return "<disabled>"
	}
	return fmt.Sprintf("webhook(%s)", n.client.BaseURL)
}
