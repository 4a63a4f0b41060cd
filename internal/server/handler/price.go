package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// PriceHandler reads and sets reference prices used for MARKET fills on the
// paper venue and for sizing notional futures orders.
type PriceHandler struct {
	prices domain.PriceCache
	logger *slog.Logger
}

func NewPriceHandler(prices domain.PriceCache, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

type priceBody struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

// GetPrice returns the cached price for a symbol.
// GET /api/prices/{symbol}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	price, at, err := h.prices.GetPrice(r.Context(), symbol)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, priceBody{Symbol: symbol, Price: price, At: at})
}

// SetPrice stores an operator-supplied reference price.
// PUT /api/prices/{symbol}
func (h *PriceHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var body priceBody
	if err := decodeBody(w, r, &body); err != nil {
		writeServiceError(w, err)
		return
	}
	body.Symbol = domain.NormalizeSymbol(r.PathValue("symbol"))
	if !body.Price.IsPositive() {
		writeServiceError(w, domain.Invalid("price", "must be positive"))
		return
	}
	if body.At.IsZero() {
		body.At = time.Now().UTC()
	}
	if err := h.prices.SetPrice(r.Context(), body.Symbol, body.Price, body.At); err != nil {
		writeServiceError(w, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: reference price set",
		slog.String("symbol", body.Symbol),
		slog.String("price", body.Price.String()),
	)
	writeJSON(w, http.StatusOK, body)
}
