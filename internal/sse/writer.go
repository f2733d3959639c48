// Package sse writes named server-sent events to a client connection.
package sse

import (
	"context"
	"io"
	"net/http"
	"sync"

	ginsse "github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Writer frames events onto a response stream. Once the client goes away,
// every further write is a silent no-op. A Writer is safe for concurrent
// use.
type Writer struct {
	mu         sync.Mutex
	ctx        context.Context
	w          io.Writer
	flusher    http.Flusher
	log        *zap.Logger
	closed     bool
	terminated bool
}

// New creates a Writer over w. Writes stop once ctx is done. w is flushed
// after every event when it implements http.Flusher.
func New(ctx context.Context, w io.Writer, log *zap.Logger) *Writer {
	if log == nil {
		log = zap.NewNop()
	}
	f, _ := w.(http.Flusher)
	return &Writer{ctx: ctx, w: w, flusher: f, log: log}
}

// ForGin prepares c for streaming and returns a Writer bound to its request.
func ForGin(c *gin.Context, log *zap.Logger) *Writer {
	c.Header("Content-Type", ginsse.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()
	return New(c.Request.Context(), c.Writer, log)
}

// Send writes one event. It does nothing after the writer is closed or
// terminated.
func (w *Writer) Send(event string, payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return
	}
	w.write(event, payload)
}

// Terminate writes the final event of the stream and closes the writer.
// Only the first call writes anything.
func (w *Writer) Terminate(event string, payload any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return
	}
	w.terminated = true
	w.write(event, payload)
	w.closed = true
}

// Close stops all further writes. It is safe to call more than once.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Closed reports whether the stream can no longer be written, either
// because it was closed or because the client disconnected.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closedLocked()
}

func (w *Writer) closedLocked() bool {
	if !w.closed && w.ctx.Err() != nil {
		w.closed = true
		w.log.Debug("sse: client disconnected")
	}
	return w.closed
}

func (w *Writer) write(event string, payload any) {
	if w.closedLocked() {
		return
	}
	if err := ginsse.Encode(w.w, ginsse.Event{Event: event, Data: payload}); err != nil {
		w.closed = true
		w.log.Debug("sse: write failed, closing stream", zap.String("event", event), zap.Error(err))
		return
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
}
