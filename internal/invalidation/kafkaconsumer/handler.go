package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	obs "github.com/mohammed-shakir/broadband-coverage/internal/core/observability"
)

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

// groupHandler feeds one partition claim at a time into the invalidation
// runner. An event whose apply failed leaves its offset unmarked, so the
// partition resumes from it after the next rebalance.
type groupHandler struct {
	process messageProcessor
	log     *slog.Logger
}

func newGroupHandler(process messageProcessor, log *slog.Logger) *groupHandler {
	if log == nil {
		log = slog.Default()
	}
	return &groupHandler{process: process, log: log}
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.log.InfoContext(sess.Context(), "invalidation partitions assigned",
		"member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	handled := 0
	defer func() {
		h.log.DebugContext(ctx, "invalidation claim released",
			"topic", claim.Topic(), "partition", claim.Partition(), "handled", handled)
	}()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				obs.IncInvalidation("unmarked")
				h.log.WarnContext(ctx, "invalidation left unmarked for redelivery",
					"partition", msg.Partition, "offset", msg.Offset, "key", string(msg.Key), "err", err)
				return fmt.Errorf("invalidation partition %d offset %d: %w", msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
			handled++
		}
	}
}
