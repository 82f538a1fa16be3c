// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation, plus a JSON request/reply envelope
// for services answering on a queue group.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
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

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: encode %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

func extract(msg *nats.Msg) context.Context {
	return otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Debug("natsutil: dropping malformed message", "subject", msg.Subject, "err", err)
			return
		}
		handler(extract(msg), v)
	})
}

// Request sends a JSON-encoded request and decodes the response. The wait is
// bounded by ctx's deadline, or nats.DefaultTimeout when ctx has none.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nats.DefaultTimeout)
		defer cancel()
	}
	resp, err := nc.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return zero, fmt.Errorf("natsutil: request %s: %w", subject, err)
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: decode reply from %s: %w", subject, err)
	}
	return result, nil
}

// Reply is the envelope a Serve handler answers with.
type Reply[T any] struct {
	Data  *T     `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// RemoteError is a failure reported by the responder.
type RemoteError struct {
	Subject string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("natsutil: %s: remote: %s", e.Subject, e.Message)
}

// Server is a running Serve responder.
type Server struct {
	sub *nats.Subscription
	sem chan struct{}
	wg  sync.WaitGroup
}

// Serve answers requests on subject within queue group queue. Up to workers
// handlers run at once (workers < 1 means 1); further requests wait in the
// subscription until a slot frees. A handler error is sent back in the
// envelope; so is a request that does not decode. A reply may carry both
// data and an error.
func Serve[Req, Resp any](nc *nats.Conn, subject, queue string, workers int, handler func(context.Context, Req) (*Resp, error)) (*Server, error) {
	if workers < 1 {
		workers = 1
	}
	s := &Server{sem: make(chan struct{}, workers)}
	sub, err := nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		s.sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			respond(subject, msg, handler)
		}()
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func respond[Req, Resp any](subject string, msg *nats.Msg, handler func(context.Context, Req) (*Resp, error)) {
	var reply Reply[Resp]
	var req Req
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		reply.Error = fmt.Sprintf("decode request: %v", err)
	} else {
		resp, err := handler(extract(msg), req)
		reply.Data = resp
		if err != nil {
			reply.Error = err.Error()
		}
	}
	data, err := json.Marshal(reply)
	if err != nil {
		data, _ = json.Marshal(Reply[Resp]{Error: fmt.Sprintf("encode reply: %v", err)})
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("natsutil: respond failed", "subject", subject, "err", err)
	}
}

// Drain stops accepting requests, lets pending ones run and waits for every
// handler to return or ctx to end.
func (s *Server) Drain(ctx context.Context) error {
	closed := s.sub.StatusChanged(nats.SubscriptionClosed)
	if err := s.sub.Drain(); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		<-closed
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe stops accepting requests without waiting for handlers.
func (s *Server) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// Call sends req to a Serve responder. A reported error is returned as
// *RemoteError next to any data that came with it.
func Call[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (*Resp, error) {
	reply, err := Request[Req, Reply[Resp]](ctx, nc, subject, req)
	if err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return reply.Data, &RemoteError{Subject: subject, Message: reply.Error}
	}
	return reply.Data, nil
}
