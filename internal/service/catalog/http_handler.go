package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"quickstock/internal/pkg/logger"
)

// maxBatch 限制单次查询的 SKU 数量
const maxBatch = 200

type Handler struct {
	book *Book
}

func NewHandler(book *Book) *Handler {
	return &Handler{book: book}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /api/v1/catalog/products/skus", h.handleBySKUs)
}

func (h *Handler) handleBySKUs(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer("catalog-service").Start(ctx, "catalog.ProductsBySKUs")
	defer span.End()

	var skus []string
	if err := json.NewDecoder(r.Body).Decode(&skus); err != nil {
		http.Error(w, "body must be a JSON array of SKUs", http.StatusBadRequest)
		return
	}
	if len(skus) > maxBatch {
		http.Error(w, "too many SKUs in one request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.Int("sku.count", len(skus)))

	products := h.book.Lookup(skus)
	logger.Ctx(ctx).Debug().Int("requested", len(skus)).Int("found", len(products)).Msg("catalog lookup")

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(products); err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("failed to write catalog response")
	}
}
