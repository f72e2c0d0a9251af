package main

import (
	"errors"
	"net/http"

	"github.com/campuskit/remotehub/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	requestIDContextKey     = "request_id"
	requestLoggerContextKey = "request_logger"
	requestIDHeader         = "X-Request-ID"
)

const tracerName = "github.com/campuskit/remotehub/server"

func withRequestContext(base zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(requestIDHeader)
		if reqID == "" {
			reqID = xid.New().String()
		}
		c.Set(requestIDContextKey, reqID)
		c.Writer.Header().Set(requestIDHeader, reqID)

		logger := base.With().
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Logger()
		c.Set(requestLoggerContextKey, logger)

		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		tracer := otel.Tracer(tracerName)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.FullPath(), trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
			attribute.String("request.id", reqID),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		span.End()
	}
}

func requestLogger(c *gin.Context, fallback zerolog.Logger) zerolog.Logger {
	if value, ok := c.Get(requestLoggerContextKey); ok {
		if logger, ok := value.(zerolog.Logger); ok {
			return logger
		}
	}
	return fallback
}

func requestID(c *gin.Context) string {
	if value, ok := c.Get(requestIDContextKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}

// respondSuccess writes the success envelope, optionally with a command
// descriptor.
func respondSuccess(c *gin.Context, message string, data *protocol.CommandDescriptor) {
	c.JSON(http.StatusOK, protocol.Response{Success: true, Message: message, Data: data})
}

// respondFailure writes the failure envelope and logs at a severity picked
// from the status class: caller errors stay at info, not-found at warn,
// conflicts and server faults at error.
func (s *Server) respondFailure(c *gin.Context, status int, message string) {
	logger := requestLogger(c, s.logger)
	entry := logger.Info()
	switch {
	case status >= http.StatusInternalServerError || status == http.StatusConflict:
		entry = logger.Error()
	case status == http.StatusNotFound:
		entry = logger.Warn()
	}
	entry.Int("status", status).Msg(message)

	if span := trace.SpanFromContext(c.Request.Context()); span.IsRecording() {
		span.AddEvent("protocol.failure", trace.WithAttributes(
			attribute.Int("http.status_code", status),
			attribute.String("failure.message", message),
		))
		if status >= http.StatusInternalServerError {
			span.RecordError(errors.New(message))
		}
	}

	c.AbortWithStatusJSON(status, protocol.Response{Success: false, Message: message})
}

func (s *Server) respondCallerError(c *gin.Context, message string) {
	s.respondFailure(c, http.StatusBadRequest, message)
}

func (s *Server) respondNotFound(c *gin.Context, message string) {
	s.respondFailure(c, http.StatusNotFound, message)
}

func (s *Server) respondConflict(c *gin.Context, message string) {
	s.respondFailure(c, http.StatusConflict, message)
}

// respondInternal hides store errors behind a generic message; the cause
// stays in the log.
func (s *Server) respondInternal(c *gin.Context, err error) {
	logger := requestLogger(c, s.logger)
	logger.Error().Err(err).Msg("request failed")
	s.respondFailure(c, http.StatusInternalServerError, "internal error")
}

// respondReplay covers the invariant-violation class: the command exists
// but is no longer running. The caller sees a not-found-style failure; the
// log line is distinct so operators can tell replays from real not-founds.
func (s *Server) respondReplay(c *gin.Context, message string) {
	logger := requestLogger(c, s.logger)
	logger.Error().
		Str("failure", message).
		Msg("terminal command re-reported, possible replay")
	c.AbortWithStatusJSON(http.StatusNotFound, protocol.Response{Success: false, Message: message})
}
