package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"foodlabel-analyzer/internal/model"
)

// AnalysisPublisher emits completed analyses for asynchronous persistence.
type AnalysisPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewAnalysisPublisher(conn *amqp.Connection, queueName string) *AnalysisPublisher {
	return &AnalysisPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *AnalysisPublisher) Publish(ctx context.Context, rec model.AnalysisRecord) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal analysis payload failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    rec.ID,
			Type:         rec.Kind,
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish analysis failed: %w", err)
	}
	return nil
}

// DeclareQueue declares the durable queue shared by publisher and worker.
func DeclareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("declare queue failed: %w", err)
	}
	return q, nil
}
