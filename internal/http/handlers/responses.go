package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/appgarcom/prestador/internal/http/respond"
	"github.com/appgarcom/prestador/internal/offers"
)

const maxBody = 1 << 16

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// respondOfferError maps controller errors onto HTTP statuses.
func respondOfferError(w http.ResponseWriter, err error) {
	var terr *offers.TransportError
	switch {
	case errors.Is(err, offers.ErrOfferStale):
		respond.Error(w, http.StatusConflict, "offer is no longer available")
	case errors.Is(err, offers.ErrOfferNotFound):
		respond.Error(w, http.StatusNotFound, "offer not found")
	case errors.Is(err, offers.ErrDetached), errors.Is(err, offers.ErrClosed):
		respond.Retry(w, http.StatusServiceUnavailable, "offer feed is not attached")
	case errors.As(err, &terr):
		respond.Retry(w, http.StatusBadGateway, "offer store unavailable")
	default:
		respond.Error(w, http.StatusInternalServerError, "unexpected error")
	}
}
