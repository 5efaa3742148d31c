package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/storage"
)

const offerColumns = `id::text, professional_id::text, data_servico, hora_inicio, hora_fim,
	status, status_visualizacao_prestador, checklist_alinhamento, created_at`

// InsertOffer creates a servicos_realizados row. The insert trigger
// announces it on the realtime feed.
func (s *Store) InsertOffer(ctx context.Context, offer models.Offer) (models.Offer, error) {
	alignment, err := json.Marshal(offer.Alignment)
	if err != nil {
		return models.Offer{}, fmt.Errorf("encode alignment: %w", err)
	}
	query := `
	INSERT INTO servicos_realizados (professional_id, data_servico, hora_inicio, hora_fim, checklist_alinhamento)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + offerColumns + `;`
	row := s.pool.QueryRow(ctx, query, offer.ProfessionalID, offer.ServiceDate, offer.StartTime, offer.EndTime, alignment)
	return scanOffer(row)
}

// QueryPending lists offers awaiting the professional's decision, oldest first.
func (s *Store) QueryPending(ctx context.Context, userID string) ([]models.Offer, error) {
	query := `
	SELECT ` + offerColumns + `
	FROM servicos_realizados
	WHERE professional_id = $1 AND status = $2
	ORDER BY created_at, id;`
	rows, err := s.pool.Query(ctx, query, userID, models.StatusAwaitingAcceptance)
	if err != nil {
		return nil, fmt.Errorf("query pending offers: %w", err)
	}
	defer rows.Close()

	var out []models.Offer
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query pending offers: %w", err)
	}
	return out, nil
}

// GetOffer fetches a single offer.
func (s *Store) GetOffer(ctx context.Context, offerID string) (models.Offer, error) {
	if !validID(offerID) {
		return models.Offer{}, storage.ErrNotFound
	}
	query := `SELECT ` + offerColumns + ` FROM servicos_realizados WHERE id = $1;`
	return scanOffer(s.pool.QueryRow(ctx, query, offerID))
}

// MarkViewed flips the view status only while it is still ENVIADA.
func (s *Store) MarkViewed(ctx context.Context, offerID string) (bool, error) {
	if !validID(offerID) {
		return false, nil
	}
	const query = `
	UPDATE servicos_realizados
	SET status_visualizacao_prestador = $2
	WHERE id = $1 AND status_visualizacao_prestador = $3;`
	tag, err := s.pool.Exec(ctx, query, offerID, models.ViewViewed, models.ViewSent)
	if err != nil {
		return false, fmt.Errorf("mark offer viewed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateDecision answers an offer that is still awaiting acceptance and
// inside its response window.
func (s *Store) UpdateDecision(ctx context.Context, offerID string, to models.DecisionStatus) error {
	if !validID(offerID) {
		return storage.ErrNotFound
	}
	const query = `
	UPDATE servicos_realizados
	SET status = $2
	WHERE id = $1 AND status = $3 AND created_at + $4::interval > NOW();`
	tag, err := s.pool.Exec(ctx, query, offerID, to, models.StatusAwaitingAcceptance, s.window)
	if err != nil {
		return fmt.Errorf("update offer decision: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM servicos_realizados WHERE id = $1);`, offerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update offer decision: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrStale
}

// ExpireStale cancels pending offers whose response window closed before now.
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	const query = `
	UPDATE servicos_realizados
	SET status = $1
	WHERE status = $2 AND created_at + $3::interval <= $4;`
	tag, err := s.pool.Exec(ctx, query, models.StatusCancelled, models.StatusAwaitingAcceptance, s.window, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale offers: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOffer(row pgx.Row) (models.Offer, error) {
	var (
		offer     models.Offer
		alignment []byte
	)
	err := row.Scan(&offer.ID, &offer.ProfessionalID, &offer.ServiceDate, &offer.StartTime, &offer.EndTime,
		&offer.Status, &offer.ViewStatus, &alignment, &offer.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Offer{}, storage.ErrNotFound
		}
		return models.Offer{}, err
	}
	if len(alignment) > 0 {
		if err := json.Unmarshal(alignment, &offer.Alignment); err != nil {
			return models.Offer{}, fmt.Errorf("decode alignment for offer %s: %w", offer.ID, err)
		}
	}
	return offer, nil
}
