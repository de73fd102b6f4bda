package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
	"github.com/magictalent/ai-agent-backend/internal/logging"
	"github.com/magictalent/ai-agent-backend/internal/service"
)

// SequenceStarter is the part of the builder the subscriber needs.
type SequenceStarter interface {
	StartSequence(ctx context.Context, req service.StartSequenceRequest) (int, error)
}

// SequenceStartHandler decodes a start request and runs the builder.
// Validation failures are reported as ErrMalformed so they are not retried.
func SequenceStartHandler(starter SequenceStarter) Handler {
	log := logging.Component("queue")
	return func(ctx context.Context, body []byte) error {
		var req service.StartSequenceRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		n, err := starter.StartSequence(ctx, req)
		if err != nil {
			if errors.Is(err, appErrors.ErrInvalidChannel) || errors.Is(err, appErrors.ErrMissingLead) {
				return fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			return err
		}

		log.Info().
			Str("campaign_id", req.CampaignID).
			Str("lead_id", req.LeadID).
			Int("created", n).
			Msg("queued sequence start processed")
		return nil
	}
}

// StartSequenceStartSubscriber consumes TopicSequenceStarts.
func StartSequenceStartSubscriber(ctx context.Context, q Queue, starter SequenceStarter) error {
	if err := q.Subscribe(ctx, TopicSequenceStarts, SequenceStartHandler(starter)); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicSequenceStarts, err)
	}
	return nil
}
