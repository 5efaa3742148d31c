package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/appgarcom/prestador/internal/http/respond"
	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/offers"
)

// OfferService is the part of the offer controller the endpoints use.
type OfferService interface {
	Pending() []models.Offer
	ViewOffer(ctx context.Context, offerID string) (models.Offer, error)
	Decide(ctx context.Context, offerID string, decision models.Decision) error
	Reload(ctx context.Context) error
}

// OffersHandler exposes the pending set and the offer actions.
type OffersHandler struct {
	offers  OfferService
	protect func(http.Handler) http.Handler
	log     *slog.Logger
}

// NewOffersHandler constructs the handler. protect wraps every route.
func NewOffersHandler(svc OfferService, protect func(http.Handler) http.Handler, log *slog.Logger) *OffersHandler {
	return &OffersHandler{offers: svc, protect: protect, log: log.With("component", "offers-handler")}
}

// Register attaches offer routes to the mux.
func (h *OffersHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /offers", h.protect(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /offers/reload", h.protect(http.HandlerFunc(h.handleReload)))
	mux.Handle("GET /offers/{id}", h.protect(http.HandlerFunc(h.handleView)))
	mux.Handle("POST /offers/{id}/accept", h.protect(h.decision(models.Accept)))
	mux.Handle("POST /offers/{id}/decline", h.protect(h.decision(models.Decline)))
}

func (h *OffersHandler) handleList(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, "pending offers", h.offers.Pending())
}

func (h *OffersHandler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.offers.Reload(r.Context()); err != nil {
		respondOfferError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, "pending offers", h.offers.Pending())
}

func (h *OffersHandler) handleView(w http.ResponseWriter, r *http.Request) {
	offer, err := h.offers.ViewOffer(r.Context(), r.PathValue("id"))
	var terr *offers.TransportError
	if err != nil && !(errors.As(err, &terr) && offer.ID != "") {
		respondOfferError(w, err)
		return
	}
	if err != nil {
		// The offer loaded but the view mark did not persist; the next read retries it.
		h.log.Warn("offer served without view mark", "offer_id", offer.ID, "error", err)
	}
	respond.JSON(w, http.StatusOK, "offer", offer)
}

func (h *OffersHandler) decision(d models.Decision) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := h.offers.Decide(r.Context(), id, d); err != nil {
			respondOfferError(w, err)
			return
		}
		msg := "offer accepted"
		if d == models.Decline {
			msg = "offer declined"
		}
		respond.JSON(w, http.StatusOK, msg, map[string]string{"id": id, "status": string(d.Target())})
	})
}
