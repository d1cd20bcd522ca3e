package webhook

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marrygold/usher/pkg/httputil"
	"github.com/marrygold/usher/pkg/identity"
	"github.com/marrygold/usher/pkg/observability"
)

// Deliveries are small JSON documents; anything past this is not a
// legitimate notification.
const maxBodyBytes = 1 << 20

// Handler terminates the provider's webhook deliveries on a single POST
// endpoint.
type Handler struct {
	verifier   *Verifier
	dispatcher *Dispatcher
	limiter    *RateLimiter
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewHandler creates the webhook HTTP handler. limiter and metrics may be
// nil.
func NewHandler(verifier *Verifier, dispatcher *Dispatcher, limiter *RateLimiter, metrics *observability.Metrics, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handler{
		verifier:   verifier,
		dispatcher: dispatcher,
		limiter:    limiter,
		metrics:    metrics,
		logger:     logger,
	}
}

// RegisterRoutes registers the webhook endpoint.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/identity", h.handleDelivery).Methods("POST")
}

func (h *Handler) handleDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID := r.Header.Get(HeaderID)
	logger := h.logger.WithField("delivery_id", deliveryID)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r.Context(), r.RemoteAddr) {
		httputil.WriteTooManyRequests(w, "delivery rate limit exceeded")
		return
	}

	// Verify before parsing; the signature covers the raw bytes.
	err = h.verifier.Verify(body, deliveryID,
		r.Header.Get(HeaderTimestamp), r.Header.Get(HeaderSignature))
	if err != nil {
		h.record("", "rejected")
		logger.Warn("rejected delivery with invalid signature")
		httputil.WriteUnauthorized(w, "invalid delivery signature")
		return
	}

	event, err := ParseEvent(body)
	if err != nil {
		h.record("", "malformed")
		logger.WithError(err).Error("verified delivery carries malformed payload")
		httputil.WriteBadRequest(w, "malformed delivery payload")
		return
	}

	if err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		if identity.IsTransient(err) {
			h.record(string(event.Type), "transient")
			logger.WithError(err).Warn("transient failure resolving delivery, provider will redeliver")
			httputil.WriteServiceUnavailable(w, "temporarily unable to process delivery")
			return
		}
		h.record(string(event.Type), "permanent")
		logger.WithError(err).Error("permanent failure resolving delivery")
		httputil.WriteInternalError(w, err)
		return
	}

	h.record(string(event.Type), "resolved")
	httputil.WriteNoContent(w)
}

func (h *Handler) record(eventType, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhookDelivery(eventType, outcome)
	}
}
