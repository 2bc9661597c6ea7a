package profiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/common/models"
	"github.com/synaptica-ai/vendorshape/pkg/configstore"
	"github.com/synaptica-ai/vendorshape/pkg/inference"
	"github.com/synaptica-ai/vendorshape/pkg/vendorconfig"
)

// HandleEvent profiles the batch carried by a sample-batch event. Batches that can never
// succeed are logged and acknowledged; storage and other transient failures are returned
// so the consumer retries them.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.Type != models.EventSampleBatch {
		return nil
	}
	entry := logger.WithFields(map[string]interface{}{
		"event_id": event.ID,
		"source":   event.Source,
	})

	batch, err := decodeBatch(event.Data)
	if err != nil {
		entry.WithError(err).Warn("Dropping malformed sample batch")
		return nil
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = event.Timestamp
	}

	res, err := s.Profile(ctx, batch)
	if err != nil {
		if permanent(err) {
			entry.WithError(err).Warn("Dropping sample batch")
			return nil
		}
		return err
	}
	entry.WithField("ref", res.Ref).Info("Sample batch profiled")
	return nil
}

func decodeBatch(data map[string]interface{}) (models.SampleBatch, error) {
	var batch models.SampleBatch
	raw, err := json.Marshal(data)
	if err != nil {
		return batch, fmt.Errorf("encode event data: %w", err)
	}
	if err := json.Unmarshal(raw, &batch); err != nil {
		return batch, fmt.Errorf("decode sample batch: %w", err)
	}
	return batch, nil
}

func permanent(err error) bool {
	return IsValidationError(err) ||
		errors.Is(err, analysis.ErrNoSamples) ||
		errors.Is(err, inference.ErrDegenerateInput) ||
		errors.Is(err, configstore.ErrInvalidName) ||
		vendorconfig.IsInvalidAddress(err)
}
