// Package sqs publishes transition notifications to an AWS SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aretw0/switchboard/internal/logging"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

// DefaultBuffer is the number of notifications held while the queue is slow.
const DefaultBuffer = 256

// flushTimeout bounds the final drain after Run's context is cancelled.
const flushTimeout = 5 * time.Second

// Message is the JSON body of every notification.
type Message struct {
	MachineID  string         `json:"machineId"`
	InstanceID string         `json:"instanceId"`
	SessionID  string         `json:"sessionId,omitempty"`
	Transition string         `json:"transition"`
	From       string         `json:"from"`
	To         string         `json:"to"`
	Outcome    domain.Outcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	FollowUp   bool           `json:"followUp,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Publisher buffers transition events and sends them to one queue.
type Publisher struct {
	client   sqsiface.SQSAPI
	queueURL string
	events   chan Message
	dropped  atomic.Int64
	logger   *slog.Logger
}

type Option func(*Publisher)

func WithBuffer(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.events = make(chan Message, n)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewClient builds an SQS client from the shared AWS config. A non-empty endpoint points the
// client at a local emulator.
func NewClient(region, endpoint string) (*sqs.SQS, error) {
	cfg := aws.Config{}
	if region != "" {
		cfg.Region = aws.String(region)
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
		Config:            cfg,
	})
	if err != nil {
		return nil, err
	}
	return sqs.New(sess), nil
}

func NewPublisher(client sqsiface.SQSAPI, queueURL string, opts ...Option) *Publisher {
	p := &Publisher{
		client:   client,
		queueURL: queueURL,
		events:   make(chan Message, DefaultBuffer),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Hooks returns lifecycle hooks that enqueue every transition. A full buffer drops the event.
func (p *Publisher) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			p.Enqueue(Message{
				MachineID:  e.MachineID,
				InstanceID: e.InstanceID,
				SessionID:  e.SessionID,
				Transition: e.Transition,
				From:       e.From,
				To:         e.To,
				Outcome:    e.Outcome,
				Error:      e.Error,
				FollowUp:   e.FollowUp,
				Timestamp:  e.Timestamp,
			})
		},
	}
}

// Enqueue adds msg without blocking and reports whether it was accepted.
func (p *Publisher) Enqueue(msg Message) bool {
	select {
	case p.events <- msg:
		return true
	default:
		if p.dropped.Add(1) == 1 {
			p.logger.Warn("SQS notification buffer full, dropping events", "queue", p.queueURL)
		}
		return false
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Run sends queued messages until ctx is done, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("SQS Publisher started", "queue", p.queueURL)
	for {
		select {
		case msg := <-p.events:
			p.send(ctx, msg)
		case <-ctx.Done():
			p.flush()
			p.logger.Info("SQS Publisher exiting")
			return ctx.Err()
		}
	}
}

func (p *Publisher) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case msg := <-p.events:
			p.send(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) send(ctx context.Context, msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("Cannot encode notification", "machine_id", msg.MachineID, "err", err)
		return
	}
	out, err := p.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageBody: aws.String(string(body)),
		QueueUrl:    aws.String(p.queueURL),
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Error("Cannot publish notification", "machine_id", msg.MachineID, "transition", msg.Transition, "err", err)
		}
		return
	}
	p.logger.Debug("Notification posted to SQS", "message_id", aws.StringValue(out.MessageId))
}
