package campaigns

import (
	"context"

	"github.com/Mercury-nju/novamail-sub004/pkg/logger"
)

// LogSender is a stand-in campaign delivery collaborator. Real delivery is
// a separate pipeline; the gate only needs this interface's error signal.
type LogSender struct {
	log logger.Logger
}

// NewLogSender creates a sender that only logs the handoff.
func NewLogSender(log logger.Logger) *LogSender {
	return &LogSender{log: log}
}

// SendCampaign records the handoff to the delivery pipeline.
func (s *LogSender) SendCampaign(ctx context.Context, accountID int64, campaignID string, recipients int) error {
	s.log.Info("campaign handed off for delivery",
		"account_id", accountID,
		"campaign_id", campaignID,
		"recipients", recipients)
	return nil
}
