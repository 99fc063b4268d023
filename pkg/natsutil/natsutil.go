// Package natsutil provides typed NATS publish/subscribe helpers that carry
// OpenTelemetry trace context in message headers.
package natsutil

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for the OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NewMsg encodes v as JSON into a message for subject with ctx's trace
// context injected into its headers.
func NewMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it on subject.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := NewMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Handler receives a decoded message together with the context extracted
// from its headers.
type Handler[T any] func(ctx context.Context, v T)

// decode returns a callback for nats subscriptions. Malformed payloads are
// logged and dropped.
func decode[T any](subject string, log *slog.Logger, h Handler[T]) nats.MsgHandler {
	if log == nil {
		log = slog.Default()
	}
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			log.Warn("dropping malformed message", "subject", subject, "error", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		h(ctx, v)
	}
}

// Subscribe delivers every message on subject to h.
func Subscribe[T any](nc *nats.Conn, subject string, log *slog.Logger, h Handler[T]) (*nats.Subscription, error) {
	return nc.Subscribe(subject, decode(subject, log, h))
}

// QueueSubscribe shares the messages on subject among all members of queue.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, log *slog.Logger, h Handler[T]) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, decode(subject, log, h))
}
