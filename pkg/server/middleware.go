package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// CIDHeader carries the correlation ID of a request.
// A request that already has one keeps it.
const CIDHeader = "X-Radiod-Cid"

const cidKey = "radiod.cid"

func cidMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CIDHeader)
		if cid == "" {
			cid = ksuid.New().String()
		}
		c.Set(cidKey, cid)
		c.Header(CIDHeader, cid)
		c.Next()
	}
}

func cidFrom(c *gin.Context) string {
	return c.GetString(cidKey)
}

// otelMiddleware starts a span for each API request.
// Websocket connections aren't traced; they last as long as the client stays connected.
func (srv *Server) otelMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("github.com/n0ot/radiod/pkg/server")
	return func(c *gin.Context) {
		if c.IsWebsocket() {
			c.Next()
			return
		}

		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.target", c.Request.URL.Path),
			attribute.String("radiod.cid", cidFrom(c)),
		)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

// logMiddleware logs API requests. Websocket sessions log for themselves.
func (srv *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.IsWebsocket() {
			return
		}
		srv.Log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"cid":     cidFrom(c),
		}).Debug("Handled request")
	}
}
