// Package service contains the gateway service that translates plain
// JSON-RPC calls into Streamable HTTP exchanges with the upstream.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/mcp-bridge/internal/ctxkey"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/session"
	"github.com/Sentinel-Gate/mcp-bridge/internal/domain/upstream"
	"github.com/Sentinel-Gate/mcp-bridge/internal/port/outbound"
	"github.com/Sentinel-Gate/mcp-bridge/pkg/mcp"
)

const (
	// DefaultProtocolVersion is the protocol version offered in the
	// gateway's own initialize request.
	DefaultProtocolVersion = "2024-11-05"

	// DefaultClientName and DefaultClientVersion identify the gateway to
	// the upstream.
	DefaultClientName    = "mcp-bridge"
	DefaultClientVersion = "1.0.0"

	instrumentationName = "github.com/Sentinel-Gate/mcp-bridge/internal/service"
)

// loggerFromContext retrieves the enriched logger from context.
// Uses the same key as HTTP middleware for request_id enrichment.
// Returns nil if no logger is in context, allowing caller to fall back.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// GatewayService turns one inbound JSON-RPC message into one JSON-RPC
// response from the upstream. It is safe for concurrent use; the only
// shared state is the session manager and the upstream client's pool.
type GatewayService struct {
	client   outbound.UpstreamClient
	sessions *session.Manager

	protocolVersion  string
	clientName       string
	clientVersion    string
	handshakeTimeout time.Duration

	logger       *slog.Logger
	metrics      *Metrics
	tracer       trace.Tracer
	translations metric.Int64Counter
}

// Option configures a GatewayService.
type Option func(*GatewayService)

// WithProtocolVersion sets the protocol version of the gateway's handshake.
func WithProtocolVersion(v string) Option {
	return func(s *GatewayService) {
		if v != "" {
			s.protocolVersion = v
		}
	}
}

// WithClientInfo sets the clientInfo of the gateway's handshake.
func WithClientInfo(name, version string) Option {
	return func(s *GatewayService) {
		if name != "" {
			s.clientName = name
		}
		if version != "" {
			s.clientVersion = version
		}
	}
}

// WithHandshakeTimeout bounds each upstream handshake.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *GatewayService) {
		s.handshakeTimeout = d
	}
}

// WithLogger sets the fallback logger used when the context has none.
func WithLogger(l *slog.Logger) Option {
	return func(s *GatewayService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the Prometheus metrics to record into.
func WithMetrics(m *Metrics) Option {
	return func(s *GatewayService) {
		s.metrics = m
	}
}

// WithTelemetry sets the OpenTelemetry providers. Globals are used otherwise.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(s *GatewayService) {
		if tp != nil {
			s.tracer = tp.Tracer(instrumentationName)
		}
		if mp != nil {
			s.translations = newTranslationCounter(mp)
		}
	}
}

// NewGatewayService creates a gateway that forwards to client.
func NewGatewayService(client outbound.UpstreamClient, opts ...Option) *GatewayService {
	s := &GatewayService{
		client:           client,
		protocolVersion:  DefaultProtocolVersion,
		clientName:       DefaultClientName,
		clientVersion:    DefaultClientVersion,
		handshakeTimeout: session.DefaultHandshakeTimeout,
		logger:           slog.Default(),
		tracer:           otel.Tracer(instrumentationName),
		translations:     newTranslationCounter(otel.GetMeterProvider()),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = session.NewManager(s.handshake,
		session.WithHandshakeTimeout(s.handshakeTimeout),
		session.WithObserver(s.metrics),
		session.WithLogger(s.logger),
	)
	return s
}

func newTranslationCounter(mp metric.MeterProvider) metric.Int64Counter {
	counter, err := mp.Meter(instrumentationName).Int64Counter(
		"mcp_bridge.translations",
		metric.WithDescription("JSON-RPC calls translated"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return counter
}

// Sessions returns the session manager shared by all calls.
func (s *GatewayService) Sessions() *session.Manager {
	return s.sessions
}

// Handle translates msg and returns the JSON-RPC response bytes for the
// caller. Notifications return nil. Failures are reported as JSON-RPC error
// responses carrying the caller's id; Handle never returns an error value.
func (s *GatewayService) Handle(ctx context.Context, msg *mcp.Message) []byte {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}
	method := metricMethod(msg.Method())

	ctx, span := s.tracer.Start(ctx, "gateway.handle", trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
	))
	defer span.End()

	var tool string
	if msg.IsToolCall() {
		tool = msg.ToolName()
		span.SetAttributes(attribute.String("mcp.tool.name", tool))
	}

	start := time.Now()
	var (
		resp []byte
		err  error
	)
	switch {
	case msg.IsInitialize():
		resp, err = s.initialize(ctx, msg)
	case msg.IsNotification():
		err = s.notify(ctx, msg, logger)
	default:
		resp, err = s.call(ctx, msg, logger)
	}

	outcome := outcomeOf(err)
	s.metrics.observeTranslation(method, outcome, time.Since(start))
	if s.translations != nil {
		s.translations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("outcome", outcome),
		))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn("upstream call failed",
			"method", msg.Method(),
			"tool", tool,
			"outcome", outcome,
			"error", err,
		)
		if msg.IsNotification() {
			return nil
		}
		return errorResponse(msg.RawID(), err)
	}

	logger.Debug("call translated", "method", msg.Method(), "duration", time.Since(start))
	return resp
}

// Shutdown terminates the current upstream session, if any.
func (s *GatewayService) Shutdown(ctx context.Context) error {
	cur, ok := s.sessions.Current()
	if !ok || cur.ID == "" {
		return nil
	}
	s.sessions.Invalidate(cur.ID)
	if err := s.client.Terminate(ctx, cur.ID); err != nil {
		return fmt.Errorf("terminate upstream session: %w", err)
	}
	s.logger.Info("upstream session terminated", "session", cur.Fingerprint())
	return nil
}

// errorResponse maps err onto the gateway's JSON-RPC error codes. Internal
// details stay in the logs.
func errorResponse(id json.RawMessage, err error) []byte {
	switch {
	case errors.Is(err, upstream.ErrSessionInvalid):
		return mcp.EncodeError(id, mcp.CodeSessionInvalid, "upstream session invalid")
	case errors.Is(err, upstream.ErrBadResponse):
		return mcp.EncodeError(id, mcp.CodeBadUpstreamResponse, "bad upstream response")
	case errors.Is(err, upstream.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return mcp.EncodeError(id, mcp.CodeUpstreamUnavailable, "upstream unavailable")
	default:
		return mcp.EncodeError(id, mcp.CodeInternalError, "Internal error")
	}
}

// outcomeOf labels err for metrics. Deadline expiries get their own label
// whether they surfaced from the transport or from the call context.
func outcomeOf(err error) string {
	var te *upstream.TransportError
	if errors.As(err, &te) && te.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return upstream.Kind(err)
}

// metricMethod bounds label cardinality to the methods MCP defines.
func metricMethod(method string) string {
	switch method {
	case mcp.MethodInitialize, mcp.MethodInitialized, mcp.MethodToolsList,
		mcp.MethodToolsCall, mcp.MethodPing,
		"resources/list", "resources/read", "resources/templates/list",
		"prompts/list", "prompts/get", "completion/complete",
		"logging/setLevel", "notifications/cancelled":
		return method
	default:
		return "other"
	}
}

// call forwards a request on the shared session. When the upstream rejects
// the session the call is replayed once on a fresh one.
func (s *GatewayService) call(ctx context.Context, msg *mcp.Message, logger *slog.Logger) ([]byte, error) {
	sid, err := s.sessions.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.roundTrip(ctx, msg, sid)
	if !errors.Is(err, upstream.ErrSessionInvalid) {
		return resp, err
	}

	s.sessions.Invalidate(sid)
	s.metrics.replayed()
	logger.Info("upstream session rejected, replaying on a new session",
		"method", msg.Method(),
		"session", session.Fingerprint(sid),
	)

	sid, err = s.sessions.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}
	resp, err = s.roundTrip(ctx, msg, sid)
	if errors.Is(err, upstream.ErrSessionInvalid) {
		s.sessions.Invalidate(sid)
	}
	return resp, err
}

// roundTrip sends msg on session sid and returns the raw matching response.
func (s *GatewayService) roundTrip(ctx context.Context, msg *mcp.Message, sid string) ([]byte, error) {
	stream, err := s.client.Send(ctx, msg.Raw, sid)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Close() }()

	resp, err := s.readResponse(ctx, stream, msg)
	if err != nil {
		return nil, err
	}
	s.sessions.Touch(sid)
	return resp.Raw, nil
}

// notify forwards a notification. The upstream has nothing to answer, so
// only the delivery is checked.
func (s *GatewayService) notify(ctx context.Context, msg *mcp.Message, logger *slog.Logger) error {
	sid, err := s.sessions.GetOrCreate(ctx)
	if err != nil {
		return err
	}
	err = s.deliver(ctx, msg.Raw, sid)
	if !errors.Is(err, upstream.ErrSessionInvalid) {
		return err
	}

	s.sessions.Invalidate(sid)
	s.metrics.replayed()
	logger.Info("upstream session rejected, replaying notification on a new session",
		"method", msg.Method(),
	)
	if sid, err = s.sessions.GetOrCreate(ctx); err != nil {
		return err
	}
	err = s.deliver(ctx, msg.Raw, sid)
	if errors.Is(err, upstream.ErrSessionInvalid) {
		s.sessions.Invalidate(sid)
	}
	return err
}

func (s *GatewayService) deliver(ctx context.Context, body []byte, sid string) error {
	stream, err := s.client.Send(ctx, body, sid)
	if err != nil {
		return err
	}
	_ = stream.Close()
	s.sessions.Touch(sid)
	return nil
}

// initialize forwards the caller's own initialize and makes the session it
// creates the shared one. An upstream JSON-RPC error is returned to the
// caller unchanged and leaves no session cached.
func (s *GatewayService) initialize(ctx context.Context, msg *mcp.Message) ([]byte, error) {
	var out []byte
	_, err := s.sessions.Establish(ctx, func(hctx context.Context) (string, error) {
		stream, err := s.client.Send(hctx, msg.Raw, "")
		if err != nil {
			return "", err
		}
		defer func() { _ = stream.Close() }()

		resp, err := s.readResponse(hctx, stream, msg)
		if err != nil {
			return "", err
		}
		out = resp.Raw
		if rpcErr := resp.ResponseError(); rpcErr != nil {
			return "", &session.RejectedError{Err: rpcErr}
		}
		return stream.SessionID, nil
	})

	var rejected *session.RejectedError
	if errors.As(err, &rejected) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// initializeParams is the params object of the gateway's own initialize.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// handshake is the session.HandshakeFunc used when a call finds no session:
// initialize with id 0, then the initialized notification.
func (s *GatewayService) handshake(ctx context.Context) (string, error) {
	req, err := mcp.NewRequest(0, mcp.MethodInitialize, initializeParams{
		ProtocolVersion: s.protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: s.clientName, Version: s.clientVersion},
	})
	if err != nil {
		return "", fmt.Errorf("build initialize: %w", err)
	}

	stream, err := s.client.Send(ctx, req.Raw, "")
	if err != nil {
		return "", err
	}
	defer func() { _ = stream.Close() }()

	resp, err := s.readResponse(ctx, stream, req)
	if err != nil {
		return "", err
	}
	if rpcErr := resp.ResponseError(); rpcErr != nil {
		return "", &upstream.ProtocolError{Reason: "initialize returned an error", Err: rpcErr}
	}

	sid := stream.SessionID
	if sid == "" {
		s.logger.Info("upstream assigned no session id, treating it as stateless")
	}
	s.sendInitialized(ctx, sid)
	return sid, nil
}

// sendInitialized completes the handshake. Upstreams that do not require the
// notification may reject it, so failures are only logged.
func (s *GatewayService) sendInitialized(ctx context.Context, sid string) {
	note, err := mcp.NewRequest(nil, mcp.MethodInitialized, nil)
	if err != nil {
		return
	}
	stream, err := s.client.Send(ctx, note.Raw, sid)
	if err != nil {
		s.logger.Warn("initialized notification failed", "error", err)
		return
	}
	_ = stream.Close()
}

// readResponse finds the response to req in stream. Anything else the
// upstream interleaves (server requests, notifications, other ids) is
// skipped.
func (s *GatewayService) readResponse(ctx context.Context, stream *outbound.Stream, req *mcp.Message) (*mcp.Message, error) {
	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = s.logger
	}

	if stream.StatusCode == http.StatusAccepted {
		return mcp.WrapMessage(mcp.EncodeResult(req.RawID(), nil), mcp.ServerToClient)
	}

	switch {
	case stream.IsEventStream():
		for msg, err := range mcp.Messages(stream.Body) {
			var parseErr *mcp.FrameParseError
			if errors.As(err, &parseErr) {
				s.metrics.skipped()
				logger.Warn("skipping unparseable frame", "error", parseErr)
				continue
			}
			if err != nil {
				return nil, &upstream.TransportError{Op: "read stream", Err: err}
			}
			if matches(msg, req) {
				return msg, nil
			}
			s.metrics.skipped()
			logger.Debug("skipping stream message",
				"direction", msg.Direction.String(),
				"method", msg.Method(),
				"id", string(msg.RawID()),
			)
		}
		return nil, &upstream.ProtocolError{Reason: "stream ended without a response to the request"}

	case stream.MediaType == "application/json":
		msg, err := mcp.ReadJSON(stream.Body)
		var parseErr *mcp.FrameParseError
		if errors.As(err, &parseErr) {
			return nil, &upstream.ProtocolError{Reason: "unparseable json body", Err: err}
		}
		if err != nil {
			return nil, &upstream.TransportError{Op: "read body", Err: err}
		}
		if !matches(msg, req) {
			return nil, &upstream.ProtocolError{Reason: "json body is not the response to the request"}
		}
		return msg, nil

	default:
		return nil, &upstream.ProtocolError{Reason: fmt.Sprintf("unexpected content type %q", stream.MediaType)}
	}
}

// matches reports whether msg is the response to req.
func matches(msg, req *mcp.Message) bool {
	if !msg.IsResponse() {
		return false
	}
	return msg.ID().Raw() == req.ID().Raw()
}
