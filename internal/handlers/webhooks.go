package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meridianware/charaiveti-api/internal/platform/httpx"
	"github.com/meridianware/charaiveti-api/internal/services"
)

const (
	defaultSignatureHeader = "X-Razorpay-Signature"
	maxWebhookBodySize     = 512 * 1024
	webhookProcessTimeout  = 30 * time.Second
)

// WebhookHandlers receives gateway callbacks. The raw body is verified against
// the shared signing secret before any parsing happens, the delivery is acked
// immediately, and event application runs after the response so a slow
// downstream never races the provider's retry timeout.
type WebhookHandlers struct {
	webhooks services.WebhookService
	header   string
	limiter  rateLimiter
	logger   *zap.Logger
	dispatch func(context.Context, func(context.Context))
}

// WebhookOption customises webhook handler construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookSignatureHeader overrides the header carrying the HMAC signature.
func WithWebhookSignatureHeader(header string) WebhookOption {
	return func(h *WebhookHandlers) {
		if trimmed := strings.TrimSpace(header); trimmed != "" {
			h.header = trimmed
		}
	}
}

// WithWebhookRateLimit throttles deliveries per source address.
func WithWebhookRateLimit(limit int, window time.Duration) WebhookOption {
	return func(h *WebhookHandlers) {
		h.limiter = newWindowLimiter(limit, window, nil)
	}
}

// WithWebhookLogger attaches a structured logger.
func WithWebhookLogger(logger *zap.Logger) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithWebhookDispatcher overrides how event application is scheduled after the
// ack. Tests pass a synchronous dispatcher to observe processing directly.
func WithWebhookDispatcher(dispatch func(context.Context, func(context.Context))) WebhookOption {
	return func(h *WebhookHandlers) {
		if dispatch != nil {
			h.dispatch = dispatch
		}
	}
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(webhooks services.WebhookService, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		webhooks: webhooks,
		header:   defaultSignatureHeader,
		logger:   zap.NewNop(),
		dispatch: asyncDispatch,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/gateway", h.handleGateway)
}

func (h *WebhookHandlers) handleGateway(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_service_unavailable", "webhook service unavailable", http.StatusServiceUnavailable))
		return
	}

	// Rate-limited deliveries get a 429, not a 200: the gateway treats
	// non-2xx as retryable and redelivers on its backoff schedule, so the
	// event is deferred rather than lost. Only unverifiable deliveries are
	// acked-and-dropped, since redelivering those can never succeed.
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	// Unverified deliveries are dropped without detail. The provider still
	// gets a 200 so a misconfigured secret does not trigger a retry storm.
	signature := strings.TrimSpace(r.Header.Get(h.header))
	if signature == "" || !h.webhooks.Verify(body, signature) {
		h.logger.Warn("webhook.signature_rejected",
			zap.String("remote", clientKey(r)),
			zap.Int("bodyBytes", len(body)),
		)
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// Ack before applying. Event handlers are idempotent under the provider's
	// at-least-once delivery, so a crash between ack and apply only loses
	// work the next duplicate delivery redoes.
	h.dispatch(ctx, func(ctx context.Context) {
		if err := h.webhooks.Process(ctx, body); err != nil {
			if errors.Is(err, services.ErrWebhookInvalidPayload) {
				h.logger.Warn("webhook.payload_rejected", zap.Error(err))
				return
			}
			h.logger.Error("webhook.process_failed", zap.Error(err))
		}
	})

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func asyncDispatch(ctx context.Context, fn func(context.Context)) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookProcessTimeout)
	go func() {
		defer cancel()
		fn(detached)
	}()
}

func clientKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
