package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sarrafnet/sarraf-backend/internal/domain"
)

// ExpirySweeper closes offers whose expiry has passed, refunding any unfilled
// sell escrow through the same path user cancellation takes.
type ExpirySweeper struct {
	svc      *Service
	logger   *slog.Logger
	interval time.Duration
}

func NewExpirySweeper(svc *Service, logger *slog.Logger, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		svc:      svc,
		logger:   logger,
		interval: interval,
	}
}

func (w *ExpirySweeper) Start(ctx context.Context) {
	w.logger.Info("offer expiry sweeper started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("offer expiry sweeper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpirySweeper) sweep(ctx context.Context) {
	expired, err := w.svc.offers.ListExpired(ctx, time.Now().UTC(), 50)
	if err != nil {
		w.logger.Error("failed to list expired offers", "error", err)
		return
	}

	for _, o := range expired {
		closed, err := w.svc.closeOffer(ctx, o.ID)
		if err != nil {
			// A fill or cancel can race the sweep; losing that race is fine.
			if errors.Is(err, domain.ErrOfferNotOpen) {
				continue
			}
			w.logger.Error("failed to expire offer", "offer_id", o.ID, "error", err)
			continue
		}
		w.logger.Info("offer expired",
			"offer_id", closed.ID,
			"user_id", closed.UserID,
			"refunded", closed.RemainingAmount,
		)
		w.svc.publishOfferEvent(ctx, "offer.expired", closed)
	}
}
