package rabbitmq

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

const dialMaxElapsed = 15 * time.Second

// New dials the broker, retrying while it comes up, and checks that a channel
// can be opened.
func New(ctx context.Context, url string) (*amqp.Connection, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 500 * time.Millisecond
	exp.MaxElapsedTime = dialMaxElapsed

	var conn *amqp.Connection
	dial := func() error {
		c, err := amqp.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Printf("rabbitmq dial failed, retrying in %s: %v", wait, err)
	}
	if err := backoff.RetryNotify(dial, backoff.WithContext(exp, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial rabbitmq failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	_ = ch.Close()
	return conn, nil
}
