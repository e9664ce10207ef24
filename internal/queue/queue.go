// internal/queue/queue.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/streadway/amqp"

	"github.com/brightreach/outreach-backend/internal/model"
)

const maxDeliveryRetries = 3

// Handler processes one inbound response event. A non-nil error requeues the
// delivery until the retry budget runs out.
type Handler func(ctx context.Context, ev model.ResponseEvent) error

// Source delivers classified lead responses to a handler. Delivery is
// at-least-once; handlers must tolerate duplicates.
type Source interface {
	Consume(ctx context.Context, handle Handler) error
}

// responsePayload is the wire shape published by the classification service.
type responsePayload struct {
	LeadID         string `json:"lead_id"`
	Classification string `json:"classification"`
	RawText        string `json:"raw_text"`
	ReceivedAt     string `json:"received_at"`
}

// AMQPSource consumes response events from RabbitMQ.
type AMQPSource struct {
	URL       string
	QueueName string
}

func NewAMQPSource(url string) *AMQPSource {
	return &AMQPSource{URL: url, QueueName: "lead_responses"}
}

// Consume blocks until the context is cancelled or the connection drops.
// Malformed payloads are acked and dropped; handler failures requeue up to
// maxDeliveryRetries times.
func (s *AMQPSource) Consume(ctx context.Context, handle Handler) error {
	return consumeAMQP(ctx, s.URL, s.QueueName, func(ch *amqp.Channel, d amqp.Delivery) {
		ev, err := decodeResponse(d.Body)
		if err != nil {
			log.Println("Invalid response payload:", err)
			d.Ack(false)
			return
		}
		if err := handle(ctx, ev); err != nil {
			log.Println("Failed to apply response for lead", ev.LeadID, ":", err)
			if !requeue(ch, s.QueueName, d) {
				return
			}
		}
		d.Ack(false)
	})
}

// consumeAMQP declares the queue durably and feeds deliveries to onDelivery
// until the context is cancelled or the channel closes. Acking is the
// callback's responsibility.
func consumeAMQP(ctx context.Context, url, queueName string, onDelivery func(ch *amqp.Channel, d amqp.Delivery)) error {
	conn, err := amqp.Dial(url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	log.Println("Consumer running on queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return amqp.ErrClosed
			}
			onDelivery(ch, d)
		}
	}
}

// requeue republishes a failed delivery with a bumped retry count rather than
// a bare nack, so the budget survives the round trip. It reports whether the
// original delivery should still be acked.
func requeue(ch *amqp.Channel, queueName string, d amqp.Delivery) bool {
	var retryCount int32
	if d.Headers["x-retry-count"] != nil {
		retryCount, _ = d.Headers["x-retry-count"].(int32)
	}
	if retryCount >= maxDeliveryRetries {
		return true
	}
	retry := amqp.Publishing{
		ContentType: "application/json",
		Body:        d.Body,
		Headers:     amqp.Table{"x-retry-count": retryCount + 1},
	}
	if err := ch.Publish("", queueName, false, false, retry); err != nil {
		log.Println("Failed to requeue delivery:", err)
		d.Nack(false, true)
		return false
	}
	return true
}

func decodeResponse(body []byte) (model.ResponseEvent, error) {
	var payload responsePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.ResponseEvent{}, err
	}

	ev := model.ResponseEvent{
		LeadID:         payload.LeadID,
		Classification: payload.Classification,
		RawText:        payload.RawText,
	}
	if payload.Classification == "" {
		ev.Classification = model.ResponseNone
	}
	if payload.ReceivedAt != "" {
		if ts, err := time.Parse(time.RFC3339, payload.ReceivedAt); err == nil {
			ev.ReceivedAt = ts
		}
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	return ev, nil
}

// MemorySource is the in-process source used by unit tests and local runs
// without a broker. Events pushed before or during Consume are delivered in
// order on the consuming goroutine.
type MemorySource struct {
	events chan memoryDelivery
}

type memoryDelivery struct {
	body    []byte
	retries int
}

func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{events: make(chan memoryDelivery, buffer)}
}

// Push enqueues a raw payload as the broker would deliver it.
func (s *MemorySource) Push(body []byte) {
	s.events <- memoryDelivery{body: body}
}

// PushEvent enqueues an already-decoded event.
func (s *MemorySource) PushEvent(ev model.ResponseEvent) {
	body, _ := json.Marshal(responsePayload{
		LeadID:         ev.LeadID,
		Classification: ev.Classification,
		RawText:        ev.RawText,
		ReceivedAt:     ev.ReceivedAt.Format(time.RFC3339),
	})
	s.Push(body)
}

func (s *MemorySource) Consume(ctx context.Context, handle Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.events:
			ev, err := decodeResponse(d.body)
			if err != nil {
				log.Println("Invalid response payload:", err)
				continue
			}
			if err := handle(ctx, ev); err != nil {
				log.Println("Failed to apply response for lead", ev.LeadID, ":", err)
				if d.retries < maxDeliveryRetries {
					s.events <- memoryDelivery{body: d.body, retries: d.retries + 1}
				}
			}
		}
	}
}

// ReceiptHandler processes one provider delivery confirmation.
type ReceiptHandler func(ctx context.Context, rcpt model.DeliveryReceipt) error

// ReceiptSource delivers provider delivery receipts to a handler, with the
// same at-least-once contract as Source.
type ReceiptSource interface {
	Consume(ctx context.Context, handle ReceiptHandler) error
}

// receiptPayload is the wire shape published by the sending providers'
// webhook relay.
type receiptPayload struct {
	AttemptID   string `json:"attempt_id"`
	DeliveredAt string `json:"delivered_at"`
}

func decodeReceipt(body []byte) (model.DeliveryReceipt, error) {
	var payload receiptPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.DeliveryReceipt{}, err
	}
	if payload.AttemptID == "" {
		return model.DeliveryReceipt{}, errMissingAttemptID
	}

	rcpt := model.DeliveryReceipt{AttemptID: payload.AttemptID}
	if payload.DeliveredAt != "" {
		if ts, err := time.Parse(time.RFC3339, payload.DeliveredAt); err == nil {
			rcpt.DeliveredAt = ts
		}
	}
	if rcpt.DeliveredAt.IsZero() {
		rcpt.DeliveredAt = time.Now()
	}
	return rcpt, nil
}

var errMissingAttemptID = errors.New("delivery receipt has no attempt_id")

// AMQPReceiptSource consumes delivery receipts from RabbitMQ.
type AMQPReceiptSource struct {
	URL       string
	QueueName string
}

func NewAMQPReceiptSource(url string) *AMQPReceiptSource {
	return &AMQPReceiptSource{URL: url, QueueName: "delivery_receipts"}
}

// Consume blocks until the context is cancelled or the connection drops.
// Malformed receipts are acked and dropped; handler failures requeue up to
// maxDeliveryRetries times.
func (s *AMQPReceiptSource) Consume(ctx context.Context, handle ReceiptHandler) error {
	return consumeAMQP(ctx, s.URL, s.QueueName, func(ch *amqp.Channel, d amqp.Delivery) {
		rcpt, err := decodeReceipt(d.Body)
		if err != nil {
			log.Println("Invalid delivery receipt:", err)
			d.Ack(false)
			return
		}
		if err := handle(ctx, rcpt); err != nil {
			log.Println("Failed to apply receipt for attempt", rcpt.AttemptID, ":", err)
			if !requeue(ch, s.QueueName, d) {
				return
			}
		}
		d.Ack(false)
	})
}

// MemoryReceiptSource is the in-process receipt feed for unit tests and local
// runs without a broker.
type MemoryReceiptSource struct {
	events chan memoryDelivery
}

func NewMemoryReceiptSource(buffer int) *MemoryReceiptSource {
	return &MemoryReceiptSource{events: make(chan memoryDelivery, buffer)}
}

// Push enqueues a raw payload as the broker would deliver it.
func (s *MemoryReceiptSource) Push(body []byte) {
	s.events <- memoryDelivery{body: body}
}

// PushReceipt enqueues an already-decoded receipt.
func (s *MemoryReceiptSource) PushReceipt(rcpt model.DeliveryReceipt) {
	body, _ := json.Marshal(receiptPayload{
		AttemptID:   rcpt.AttemptID,
		DeliveredAt: rcpt.DeliveredAt.Format(time.RFC3339),
	})
	s.Push(body)
}

func (s *MemoryReceiptSource) Consume(ctx context.Context, handle ReceiptHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-s.events:
			rcpt, err := decodeReceipt(d.body)
			if err != nil {
				log.Println("Invalid delivery receipt:", err)
				continue
			}
			if err := handle(ctx, rcpt); err != nil {
				log.Println("Failed to apply receipt for attempt", rcpt.AttemptID, ":", err)
				if d.retries < maxDeliveryRetries {
					s.events <- memoryDelivery{body: d.body, retries: d.retries + 1}
				}
			}
		}
	}
}
