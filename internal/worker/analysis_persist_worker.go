package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"foodlabel-analyzer/internal/model"
	"foodlabel-analyzer/internal/platform/rabbitmq"
)

type AnalysisStore interface {
	Create(rec *model.AnalysisRecord) error
}

var errInvalidRecord = errors.New("invalid analysis record")

// AnalysisPersistWorker consumes completed analyses and writes them to MySQL.
type AnalysisPersistWorker struct {
	conn      *amqp.Connection
	store     AnalysisStore
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAnalysisPersistWorker(conn *amqp.Connection, store AnalysisStore, queueName string) *AnalysisPersistWorker {
	return &AnalysisPersistWorker{
		conn:      conn,
		store:     store,
		queueName: queueName,
	}
}

func (w *AnalysisPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if _, err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := w.handle(d.Body); err != nil {
					log.Printf("worker persist analysis failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *AnalysisPersistWorker) handle(body []byte) error {
	var rec model.AnalysisRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("decode analysis failed: %w", err)
	}
	if rec.ID == "" || rec.ProductName == "" || rec.Kind == "" {
		return errInvalidRecord
	}
	return w.store.Create(&rec)
}

func (w *AnalysisPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
