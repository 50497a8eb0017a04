package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/enku/gbp/internal/retry"
)

// NATSQueue enqueues tasks as JetStream messages and drains them with a
// durable consumer in Work. Connection handling mirrors the teacher's
// linkverify.NATSClient: a single mutex-guarded connection, automatic
// reconnect, and a JetStream stream created on first use.
type NATSQueue struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream

	url         string
	streamName  string
	subjectBase string

	RetryPolicy retry.Policy
	Logger      *slog.Logger
}

// NewNATSQueue connects to url and ensures a durable stream named
// streamName exists for subjects under subjectBase (e.g. "gbp.>").
func NewNATSQueue(ctx context.Context, url, streamName, subjectBase string) (*NATSQueue, error) {
	q := &NATSQueue{
		handlers:    make(map[string]Handler),
		url:         url,
		streamName:  streamName,
		subjectBase: subjectBase,
		RetryPolicy: retry.DefaultPolicy(),
	}
	if err := q.connect(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *NATSQueue) logger() *slog.Logger {
	if q.Logger != nil {
		return q.Logger
	}
	return slog.Default()
}

func (q *NATSQueue) connect(ctx context.Context) error {
	conn, err := nats.Connect(q.url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				q.logger().Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			q.logger().Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return fmt.Errorf("worker: connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("worker: create jetstream context: %w", err)
	}

	stream, err := js.Stream(ctx, q.streamName)
	if err != nil {
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:      q.streamName,
			Subjects:  []string{q.subjectBase + ".>"},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
		})
		if err != nil {
			conn.Close()
			return fmt.Errorf("worker: create stream %s: %w", q.streamName, err)
		}
	}

	q.mu.Lock()
	q.conn = conn
	q.js = js
	q.stream = stream
	q.mu.Unlock()
	return nil
}

func (q *NATSQueue) RegisterHandler(task string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[task] = h
}

func (q *NATSQueue) Enqueue(ctx context.Context, task string, args any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("worker: marshal args for %s: %w", task, err)
	}

	q.mu.RLock()
	js := q.js
	q.mu.RUnlock()
	if js == nil {
		return errors.New("worker: nats not connected")
	}

	if _, err := js.Publish(ctx, task, raw); err != nil {
		return fmt.Errorf("worker: publish %s: %w", task, err)
	}
	return nil
}

// Work creates one durable consumer per registered handler's subject and
// consumes from each until ctx is cancelled. Handlers returning a non-retryable
// error (see Retryable) ack the message as terminal; retryable errors
// Nak the message with a backoff delay from RetryPolicy.
func (q *NATSQueue) Work(ctx context.Context) error {
	q.mu.RLock()
	stream := q.stream
	tasks := make([]string, 0, len(q.handlers))
	for task := range q.handlers {
		tasks = append(tasks, task)
	}
	q.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		task := task
		cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:       "gbp-worker-" + sanitizeDurableName(task),
			FilterSubject: task,
			AckPolicy:     jetstream.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("worker: create consumer for %s: %w", task, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- q.consume(ctx, task, cons)
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *NATSQueue) consume(ctx context.Context, task string, cons jetstream.Consumer) error {
	q.mu.RLock()
	h := q.handlers[task]
	q.mu.RUnlock()

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		attempt := 1
		if md, err := msg.Metadata(); err == nil {
			attempt = int(md.NumDelivered)
		}

		if err := h(ctx, msg.Data()); err != nil {
			if !Retryable(err) {
				q.logger().Error("terminal task failure, not retrying", "task", task, "error", err)
				_ = msg.Ack()
				return
			}
			delay := q.RetryPolicy.Delay(attempt)
			q.logger().Warn("retryable task failure", "task", task, "error", err, "delay", delay)
			_ = msg.NakWithDelay(delay)
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("worker: consume %s: %w", task, err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}

func sanitizeDurableName(task string) string {
	out := make([]byte, len(task))
	for i := 0; i < len(task); i++ {
		c := task[i]
		if c == '.' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.conn != nil {
		q.conn.Close()
		q.conn = nil
		q.js = nil
	}
	return nil
}
