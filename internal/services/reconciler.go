package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/metrics"
	"github.com/skill-market/backend/internal/models"
)

const reconcileBatch = 100

// Reconciler resolves records that a request left in an intermediate state:
// pending purchases whose outcome was never written, and claim offers that
// ran out.
type Reconciler struct {
	directory Directory
	catalog   Catalog
	ledger    Ledger
	auditRepo AuditLogger
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
	now       func() time.Time
}

func NewReconciler(
	directory Directory,
	catalog Catalog,
	ledger Ledger,
	auditRepo AuditLogger,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		directory: directory,
		catalog:   catalog,
		ledger:    ledger,
		auditRepo: auditRepo,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// ReconcilePurchases settles pending purchases older than
// cfg.ReconcilePendingAfter. A row with a recorded signature follows the
// ledger. A row without one is looked up on the ledger by its transfer memo,
// since the process may have stopped between submission and recording the
// signature; only when no such transfer exists is it failed. Rows the ledger
// cannot answer for are left for the next run.
func (r *Reconciler) ReconcilePurchases(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.cfg.ReconcilePendingAfter)
	stale, err := r.catalog.ListStalePending(ctx, cutoff, reconcileBatch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range stale {
		p := &stale[i]
		log := r.log.With(zap.String("purchase_id", p.ID.String()))

		if p.TxSignature == nil {
			sig, found, err := r.findTransfer(ctx, p)
			if err != nil {
				log.Warn("reconcile: transfer lookup failed, will retry", zap.Error(err))
				continue
			}
			if !found {
				if r.settle(ctx, p, models.PurchaseStatusFailed, "", log) {
					settled++
				}
				continue
			}
			log.Info("reconcile: found unrecorded transfer", zap.String("signature", sig))
			p.TxSignature = &sig
		}

		vctx, cancel := context.WithTimeout(ctx, r.cfg.LedgerTimeout)
		status, err := r.ledger.Verify(vctx, *p.TxSignature)
		cancel()
		if err != nil {
			log.Warn("reconcile: ledger verify failed, will retry", zap.Error(err))
			continue
		}

		target := models.PurchaseStatusFailed
		if status.Confirmed {
			target = models.PurchaseStatusConfirmed
		}
		if r.settle(ctx, p, target, *p.TxSignature, log) {
			settled++
		}
	}

	if settled > 0 {
		r.log.Info("reconciled pending purchases", zap.Int("count", settled), zap.Int("scanned", len(stale)))
	}
	return settled, nil
}

// findTransfer rebuilds the transfer a purchase would have submitted and asks
// the ledger for it.
func (r *Reconciler) findTransfer(ctx context.Context, p *models.Purchase) (string, bool, error) {
	wallet, err := r.directory.GetWallet(ctx, p.AgentID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	skill, err := r.catalog.GetSkill(ctx, p.SkillID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.LedgerTimeout)
	defer cancel()
	return r.ledger.FindTransfer(ctx, &models.Transfer{
		From:    wallet.Address,
		To:      skill.AuthorWallet,
		Amount:  p.Price,
		Comment: purchaseMemo(skill.Slug, p.ID),
	})
}

func (r *Reconciler) settle(ctx context.Context, p *models.Purchase, status, signature string, log *zap.Logger) bool {
	var err error
	if status == models.PurchaseStatusConfirmed {
		err = r.catalog.MarkConfirmed(ctx, p.ID, signature, r.now().UTC())
	} else {
		err = r.catalog.MarkFailed(ctx, p.ID)
	}
	if errors.Is(err, ErrConflict) {
		// settled elsewhere in the meantime
		return false
	}
	if err != nil {
		log.Error("reconcile: failed to update purchase", zap.String("status", status), zap.Error(err))
		return false
	}

	metrics.ReconciledPurchases.WithLabelValues(status).Inc()

	_ = r.auditRepo.Log(ctx, models.AuditLog{
		ActorType:  models.ActorSystem,
		Action:     "purchase_reconciled",
		EntityType: "purchase",
		EntityID:   &p.ID,
		Meta:       map[string]any{"status": status, "agent_id": p.AgentID.String()},
	})

	evType := events.EventPurchaseFailed
	if status == models.PurchaseStatusConfirmed {
		evType = events.EventPurchaseConfirmed
	}
	_ = r.publisher.Publish(ctx, events.StreamAgent, events.Event{
		Type: evType,
		Payload: map[string]any{
			"agent_id":    p.AgentID.String(),
			"purchase_id": p.ID.String(),
			"skill_id":    p.SkillID.String(),
			"reconciled":  true,
		},
	})

	log.Info("purchase reconciled", zap.String("status", status))
	return true
}

// ExpireClaims moves agents whose claim offer lapsed to expired. The claim
// token stays on the record so a late visitor is told the link expired
// rather than that it never existed.
func (r *Reconciler) ExpireClaims(ctx context.Context) (int, error) {
	ids, err := r.directory.ExpireClaims(ctx, r.now().UTC())
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		id := id
		metrics.ExpiredClaims.Inc()
		_ = r.auditRepo.Log(ctx, models.AuditLog{
			ActorType:  models.ActorSystem,
			Action:     "agent_claim_expired",
			EntityType: "agent",
			EntityID:   &id,
		})
		_ = r.publisher.Publish(ctx, events.StreamAgent, events.Event{
			Type:    events.EventAgentClaimExpired,
			Payload: map[string]any{"agent_id": id.String()},
		})
	}

	if len(ids) > 0 {
		r.log.Info("expired unclaimed agents", zap.Int("count", len(ids)))
	}
	return len(ids), nil
}
