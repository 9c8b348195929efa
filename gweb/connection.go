// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gweb

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// requestClass is decided once from the method, path and content type of a request
type requestClass int

const (
	classUnrecognized requestClass = iota
	classJSONPost
	classGetAsJSON
	classAvatarUpload
)

func (c requestClass) String() string {
	switch c {
	case classJSONPost:
		return "json-post"
	case classGetAsJSON:
		return "get-as-json"
	case classAvatarUpload:
		return "avatar-upload"
	default:
		return "unrecognized"
	}
}

type connState int

const (
	stateNoContext connState = iota
	stateAccumulating
	stateComplete
	stateTerminated
)

func (s connState) String() string {
	switch s {
	case stateNoContext:
		return "no-context"
	case stateAccumulating:
		return "accumulating"
	case stateComplete:
		return "complete"
	default:
		return "terminated"
	}
}

// Block is one slice of request body delivered to a sink. Key names the multipart
// part it belongs to (empty for plain bodies); Offset is its position within that part.
type Block struct {
	Key         string
	Data        []byte
	Offset      int64
	ContentType string
}

// bodySink consumes the body of one request and produces its response on completion
type bodySink interface {
	Feed(ctx context.Context, b Block) error
	Complete(ctx context.Context) (*Result, error)
	Close() error
}

// connection is the per-request context spanning every body chunk of one request
type connection struct {
	id     string
	class  requestClass
	state  connState
	sink   bodySink
	logger *slog.Logger

	terminateOnce sync.Once
}

func newConnection(id string, class requestClass, sink bodySink, logger *slog.Logger) *connection {
	c := &connection{id: id, class: class, sink: sink, logger: logger}
	c.transition(stateAccumulating)
	return c
}

func (c *connection) transition(to connState) {
	c.logger.Debug("Connection state change", "conn", c.id, "class", c.class.String(),
		"from", c.state.String(), "to", to.String())
	c.state = to
}

// feed hands one block to the bound sink. A zero-length block without a key marks the
// end of the body and moves the connection to complete.
func (c *connection) feed(ctx context.Context, b Block) error {
	if c.state != stateAccumulating {
		return fmt.Errorf("connection %s: feed in state %s", c.id, c.state)
	}
	if len(b.Data) == 0 && b.Key == "" {
		c.transition(stateComplete)
		return nil
	}
	return c.sink.Feed(ctx, b)
}

// complete runs the sink completion hook; the body must have been fully fed
func (c *connection) complete(ctx context.Context) (*Result, error) {
	if c.state == stateAccumulating {
		c.transition(stateComplete)
	}
	if c.state != stateComplete {
		return nil, fmt.Errorf("connection %s: complete in state %s", c.id, c.state)
	}
	return c.sink.Complete(ctx)
}

// terminate releases the sink exactly once, whatever state the connection reached
func (c *connection) terminate() {
	c.terminateOnce.Do(func() {
		if err := c.sink.Close(); err != nil {
			c.logger.Warn("Failed to release connection resources", "conn", c.id, "error", err)
		}
		c.transition(stateTerminated)
	})
}

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// jsonSink accumulates a JSON body and dispatches it on completion
type jsonSink struct {
	dispatcher *Dispatcher
	buf        *bytes.Buffer
	limit      int64
}

func newJSONSink(d *Dispatcher, limit int64) *jsonSink {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return &jsonSink{dispatcher: d, buf: buf, limit: limit}
}

func (s *jsonSink) Feed(_ context.Context, b Block) error {
	if s.buf == nil {
		return fmt.Errorf("json sink already closed")
	}
	if s.limit > 0 && int64(s.buf.Len()+len(b.Data)) > s.limit {
		return fmt.Errorf("%w: body exceeds %d bytes", ErrMalformedPayload, s.limit)
	}
	s.buf.Write(b.Data)
	return nil
}

func (s *jsonSink) Complete(ctx context.Context) (*Result, error) {
	if s.buf == nil {
		return nil, fmt.Errorf("json sink already closed")
	}
	return s.dispatcher.Dispatch(ctx, s.buf.Bytes())
}

func (s *jsonSink) Close() error {
	if s.buf != nil {
		s.buf.Reset()
		bufferPool.Put(s.buf)
		s.buf = nil
	}
	return nil
}

// uploadSink streams multipart blocks into an avatar upload
type uploadSink struct {
	store *AvatarStore
	state *UploadState
}

func (s *uploadSink) Feed(ctx context.Context, b Block) error {
	return s.store.WriteBlock(ctx, s.state, b)
}

func (s *uploadSink) Complete(ctx context.Context) (*Result, error) {
	return s.store.Finalize(ctx, s.state)
}

func (s *uploadSink) Close() error {
	return s.state.Close()
}
