package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/densityscalper/internal/domain"
	"github.com/alanyoungcy/densityscalper/internal/liquidity"
)

// BookHandler serves the current top of book for one symbol.
type BookHandler struct {
	books    domain.BookSource
	cache    domain.BookCache
	maxDepth int
	board    string
	logger   *slog.Logger
}

// NewBookHandler creates a BookHandler. books is the in-process feed and may
// be nil in a process that only reads the shared cache; cache may be nil
// when Redis is disabled. Requested symbols are normalised with board.
func NewBookHandler(books domain.BookSource, cache domain.BookCache, maxDepth int, board string, logger *slog.Logger) *BookHandler {
	if maxDepth < 1 {
		maxDepth = 20
	}
	return &BookHandler{books: books, cache: cache, maxDepth: maxDepth, board: board, logger: logHandler(logger, "book")}
}

type bookResponse struct {
	domain.OrderBookSnapshot
	BestBid *domain.Level `json:"best_bid"`
	BestAsk *domain.Level `json:"best_ask"`
	Source  string        `json:"source"`
}

// GetBook responds with the best bid/ask and the top ?depth= levels.
// GET /api/book/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := liquidity.Normalize(r.PathValue("symbol"), h.board)
	depth := queryInt(r, "depth", h.maxDepth)
	if depth > h.maxDepth {
		depth = h.maxDepth
	}

	if h.books != nil {
		if snap, ok := h.books.Snapshot(symbol, depth); ok {
			writeJSON(w, http.StatusOK, newBookResponse(snap, "feed"))
			return
		}
	}
	if h.cache != nil {
		snap, err := h.cache.GetSnapshot(r.Context(), symbol)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, newBookResponse(truncate(snap, depth), "cache"))
			return
		case !errors.Is(err, domain.ErrNotFound):
			h.logger.Warn("book cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	writeError(w, http.StatusNotFound, "no order book for "+symbol)
}

func newBookResponse(snap domain.OrderBookSnapshot, source string) bookResponse {
	resp := bookResponse{OrderBookSnapshot: snap, Source: source}
	if snap.Bids == nil {
		resp.Bids = []domain.Level{}
	}
	if snap.Asks == nil {
		resp.Asks = []domain.Level{}
	}
	if bid, ok := snap.BestBid(); ok {
		resp.BestBid = &bid
	}
	if ask, ok := snap.BestAsk(); ok {
		resp.BestAsk = &ask
	}
	return resp
}

func truncate(snap domain.OrderBookSnapshot, depth int) domain.OrderBookSnapshot {
	if len(snap.Bids) > depth {
		snap.Bids = snap.Bids[:depth]
	}
	if len(snap.Asks) > depth {
		snap.Asks = snap.Asks[:depth]
	}
	return snap
}
