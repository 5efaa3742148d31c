package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/appgarcom/prestador/internal/models"
	"github.com/appgarcom/prestador/internal/realtime"
	"github.com/appgarcom/prestador/internal/storage"
)

const insertChannel = "servicos_realizados_insert"

type insertNotice struct {
	ID             string `json:"id"`
	ProfessionalID string `json:"professional_id"`
}

// SubscribeInserts listens for new offers addressed to userID. Each
// subscription holds a dedicated pool connection until it is closed or the
// connection drops, in which case the subscription fails with the cause.
func (s *Store) SubscribeInserts(ctx context.Context, userID string) (*realtime.Subscription[models.Offer], error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+insertChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", insertChannel, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	sub := realtime.NewSubscription[models.Offer](32, cancel)
	go s.forwardInserts(listenCtx, conn, userID, sub)
	return sub, nil
}

func (s *Store) forwardInserts(ctx context.Context, conn *pgxpool.Conn, userID string, sub *realtime.Subscription[models.Offer]) {
	defer func() {
		unlistenCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if !conn.Conn().IsClosed() {
			_, _ = conn.Exec(unlistenCtx, "UNLISTEN "+insertChannel)
		}
		conn.Release()
	}()

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			sub.Fail(fmt.Errorf("wait for notification: %w", err))
			return
		}

		var notice insertNotice
		if err := json.Unmarshal([]byte(n.Payload), &notice); err != nil {
			slog.Warn("discarding malformed offer notification", "component", "offer-feed", "payload", n.Payload, "error", err)
			continue
		}
		if notice.ProfessionalID != userID {
			continue
		}

		offer, err := s.GetOffer(ctx, notice.ID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			slog.Warn("fetch notified offer failed", "component", "offer-feed", "offer_id", notice.ID, "error", err)
			continue
		}
		if !sub.Send(offer) {
			return
		}
	}
}
