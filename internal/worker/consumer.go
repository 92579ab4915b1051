package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jobradar/importer/internal/importer/domain"
	"github.com/jobradar/importer/shared/rabbitmq"
)

// setupConsumer configures QoS and starts consuming from the work queue.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.rabbitClient.Qos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.rabbitClient.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	return deliveries, nil
}

// dispatch decodes deliveries and hands them to the worker pool. Malformed
// bodies cannot succeed on redelivery, so they are dead-lettered at once.
func (w *Worker) dispatch(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var unit domain.QueueUnit
			if err := json.Unmarshal(delivery.Body, &unit); err != nil {
				w.logger.Error("Failed to parse unit JSON, dead-lettering",
					slog.Any("error", err),
				)
				if deadErr := w.queue.PublishDead(ctx, delivery.Body); deadErr != nil {
					w.logger.Error("Failed to dead-letter malformed unit",
						slog.Any("error", deadErr),
					)
				}
				if ackErr := delivery.Ack(false); ackErr != nil {
					w.logger.Error("Failed to ACK malformed unit",
						slog.Any("error", ackErr),
					)
				}
				continue
			}

			msg := &unitMessage{
				unit:     unit,
				attempt:  rabbitmq.DeliveryAttempt(&delivery),
				delivery: delivery,
			}

			select {
			case w.jobsChan <- msg:
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching unit")
				// Requeue so the unit is redelivered after restart.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK unit on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}
