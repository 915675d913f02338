package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/skill-market/backend/internal/apperr"
	"github.com/skill-market/backend/internal/config"
	"github.com/skill-market/backend/internal/custody"
	"github.com/skill-market/backend/internal/events"
	"github.com/skill-market/backend/internal/metrics"
	"github.com/skill-market/backend/internal/models"
)

type PurchaseService struct {
	directory  Directory
	catalog    Catalog
	ledger     Ledger
	wallets    WalletKeys
	auditRepo  AuditLogger
	publisher  events.Publisher
	bestEffort *BestEffort
	cfg        *config.Config
	log        *zap.Logger
}

func NewPurchaseService(
	directory Directory,
	catalog Catalog,
	ledger Ledger,
	wallets WalletKeys,
	auditRepo AuditLogger,
	publisher events.Publisher,
	bestEffort *BestEffort,
	cfg *config.Config,
	log *zap.Logger,
) *PurchaseService {
	return &PurchaseService{
		directory:  directory,
		catalog:    catalog,
		ledger:     ledger,
		wallets:    wallets,
		auditRepo:  auditRepo,
		publisher:  publisher,
		bestEffort: bestEffort,
		cfg:        cfg,
		log:        log,
	}
}

type PurchaseResult struct {
	Purchase  *models.Purchase   `json:"purchase"`
	Signature string             `json:"signature"`
	Files     []models.SkillFile `json:"files"`
}

type SkillContent struct {
	Skill *models.Skill      `json:"skill"`
	Files []models.SkillFile `json:"files"`
}

// Purchase pays for a skill from the agent's custodial wallet and returns its
// content. The order of checks matters: nothing is written before the
// balance is known to cover the price, and nothing is reported as bought
// before the ledger confirms the transfer.
func (s *PurchaseService) Purchase(ctx context.Context, agentID, skillID uuid.UUID) (result *PurchaseResult, err error) {
	defer func() {
		outcome := "confirmed"
		if err != nil {
			outcome = string(apperr.KindOf(err))
		}
		metrics.Purchases.WithLabelValues(outcome).Inc()
	}()

	log := s.log.With(zap.String("agent_id", agentID.String()), zap.String("skill_id", skillID.String()))

	// 1. Already bought
	owned, err := s.catalog.HasPurchased(ctx, agentID, skillID)
	if err != nil {
		return nil, apperr.Internal("check existing purchase", err)
	}
	if owned {
		return nil, apperr.New(apperr.KindAlreadyPurchased, "skill already purchased")
	}

	// 2. Custodial wallet
	wallet, err := s.directory.GetWallet(ctx, agentID)
	if err != nil {
		return nil, apperr.Internal("agent has no custodial wallet", err)
	}

	// 3. Price and payee
	skill, err := s.catalog.GetSkill(ctx, skillID)
	if errors.Is(err, ErrNotFound) || (err == nil && !skill.Listed) {
		return nil, apperr.New(apperr.KindNotFound, "skill not found")
	}
	if err != nil {
		return nil, apperr.Internal("get skill", err)
	}
	price := skill.Price

	// 4. Balance
	balance, err := s.getBalance(ctx, wallet.Address)
	if err != nil {
		log.Warn("balance lookup failed", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindPaymentFailed, "could not read wallet balance, try again later", err)
	}
	required := price.Add(s.cfg.FeeReserve)
	if balance.LessThan(required) {
		return nil, apperr.New(apperr.KindInsufficientBalance, "wallet balance does not cover the skill price and network fees").
			WithMeta("required", required.String()).
			WithMeta("price", price.String()).
			WithMeta("fee_reserve", s.cfg.FeeReserve.String()).
			WithMeta("available", balance.String()).
			WithMeta("currency", skill.Currency).
			WithMeta("wallet_address", wallet.Address)
	}

	// 5. Durable intent
	purchase := &models.Purchase{
		ID:        uuid.New(),
		AgentID:   agentID,
		SkillID:   skillID,
		Price:     price,
		Currency:  skill.Currency,
		Status:    models.PurchaseStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.catalog.CreatePendingPurchase(ctx, purchase); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, apperr.New(apperr.KindAlreadyPurchased, "a purchase of this skill is already in progress or complete")
		}
		return nil, apperr.Internal("create pending purchase", err)
	}
	log = log.With(zap.String("purchase_id", purchase.ID.String()))

	// 6. Transfer
	signature, err := s.transfer(ctx, wallet, skill, purchase)
	if err != nil {
		s.fail(ctx, purchase, log, err)
		return nil, err
	}
	purchase.TxSignature = &signature
	if err := s.catalog.SetPurchaseSignature(ctx, purchase.ID, signature); err != nil {
		log.Error("failed to record transfer signature", zap.String("signature", signature), zap.Error(err))
	}

	// 7. Confirmation
	status, err := s.verify(ctx, signature)
	if err != nil || !status.Confirmed {
		reason := status.Error
		if err != nil {
			reason = err.Error()
		}
		perr := apperr.New(apperr.KindPaymentFailed, "transfer was not confirmed by the ledger").
			WithMeta("signature", signature)
		log.Warn("transfer not confirmed", zap.String("signature", signature), zap.String("reason", reason))
		s.fail(ctx, purchase, log, perr)
		return nil, perr
	}

	// 8. Record. Funds have moved, so a failed write is not a failed purchase.
	confirmedAt := time.Now().UTC()
	if err := s.catalog.MarkConfirmed(ctx, purchase.ID, signature, confirmedAt); err != nil {
		log.Error("purchase confirmed on ledger but record update failed, left for reconciliation",
			zap.String("signature", signature),
			zap.Error(err),
		)
	}
	purchase.Status = models.PurchaseStatusConfirmed
	purchase.ConfirmedAt = &confirmedAt

	files, err := s.catalog.GetContent(ctx, skillID)
	if err != nil {
		log.Error("failed to load skill content after purchase", zap.Error(err))
		files = nil
	}

	// 9. Counters
	s.bestEffort.Go("increment_downloads", func(ctx context.Context) error {
		return s.catalog.IncrementDownloads(ctx, skillID)
	})

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorID:    &agentID,
		ActorType:  models.ActorAgent,
		Action:     "purchase_confirmed",
		EntityType: "purchase",
		EntityID:   &purchase.ID,
		Meta:       map[string]any{"skill_id": skillID.String(), "price": price.String(), "signature": signature},
	})
	_ = s.publisher.Publish(ctx, events.StreamAgent, events.Event{
		Type: events.EventPurchaseConfirmed,
		Payload: map[string]any{
			"agent_id":    agentID.String(),
			"purchase_id": purchase.ID.String(),
			"skill_id":    skillID.String(),
			"price":       price.String(),
			"signature":   signature,
		},
	})

	log.Info("purchase confirmed", zap.String("price", price.String()), zap.String("signature", signature))

	return &PurchaseResult{Purchase: purchase, Signature: signature, Files: files}, nil
}

// transfer builds, signs and submits the payment. The key is only open for
// the duration of the signing call.
func (s *PurchaseService) transfer(ctx context.Context, wallet *models.CustodialWallet, skill *models.Skill, purchase *models.Purchase) (string, error) {
	tr, err := s.ledger.BuildTransfer(ctx, wallet.Address, skill.AuthorWallet, purchase.Price)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPaymentFailed, "could not build transfer", err)
	}
	tr.Comment = purchaseMemo(skill.Slug, purchase.ID)

	key, err := s.wallets.Unlock(wallet.KeyEncrypted)
	if err != nil {
		return "", apperr.Internal("unlock custodial wallet", err)
	}
	defer custody.Zero(key)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	defer observeLedger("sign_and_submit", time.Now())

	signature, err := s.ledger.SignAndSubmit(ctx, tr, key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindPaymentFailed, "transfer could not be submitted", err)
	}
	return signature, nil
}

func (s *PurchaseService) fail(ctx context.Context, purchase *models.Purchase, log *zap.Logger, cause error) {
	if err := s.catalog.MarkFailed(ctx, purchase.ID); err != nil {
		log.Error("failed to mark purchase failed", zap.Error(err))
	}
	purchase.Status = models.PurchaseStatusFailed

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorID:    &purchase.AgentID,
		ActorType:  models.ActorAgent,
		Action:     "purchase_failed",
		EntityType: "purchase",
		EntityID:   &purchase.ID,
		Meta:       map[string]any{"skill_id": purchase.SkillID.String(), "reason": string(apperr.KindOf(cause))},
	})
	_ = s.publisher.Publish(ctx, events.StreamAgent, events.Event{
		Type: events.EventPurchaseFailed,
		Payload: map[string]any{
			"agent_id":    purchase.AgentID.String(),
			"purchase_id": purchase.ID.String(),
			"skill_id":    purchase.SkillID.String(),
		},
	})

	if apperr.KindOf(cause) == apperr.KindInternal {
		log.Error("purchase failed", zap.Error(cause))
	}
}

func (s *PurchaseService) getBalance(ctx context.Context, wallet string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	defer observeLedger("get_balance", time.Now())
	return s.ledger.GetBalance(ctx, wallet)
}

func (s *PurchaseService) verify(ctx context.Context, signature string) (models.TransferStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LedgerTimeout)
	defer cancel()
	defer observeLedger("verify", time.Now())
	return s.ledger.Verify(ctx, signature)
}

// GetContent returns skill files to an agent holding a confirmed purchase.
func (s *PurchaseService) GetContent(ctx context.Context, agentID, skillID uuid.UUID) (*SkillContent, error) {
	skill, err := s.catalog.GetSkill(ctx, skillID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "skill not found")
	}
	if err != nil {
		return nil, apperr.Internal("get skill", err)
	}

	owned, err := s.catalog.HasPurchased(ctx, agentID, skillID)
	if err != nil {
		return nil, apperr.Internal("check purchase", err)
	}
	if !owned {
		return nil, apperr.New(apperr.KindForbidden, "skill has not been purchased").
			WithMeta("price", skill.Price.String()).
			WithMeta("currency", skill.Currency)
	}

	files, err := s.catalog.GetContent(ctx, skillID)
	if err != nil {
		return nil, apperr.Internal("get skill content", err)
	}
	return &SkillContent{Skill: skill, Files: files}, nil
}

func (s *PurchaseService) ListPurchases(ctx context.Context, agentID uuid.UUID) ([]models.Purchase, error) {
	purchases, err := s.catalog.ListPurchases(ctx, agentID)
	if err != nil {
		return nil, apperr.Internal("list purchases", err)
	}
	if purchases == nil {
		purchases = []models.Purchase{}
	}
	return purchases, nil
}

// purchaseMemo is the comment attached to a purchase's transfer. The
// reconciler finds transfers whose signature was never recorded by it.
func purchaseMemo(slug string, purchaseID uuid.UUID) string {
	return "skill:" + slug + ":" + purchaseID.String()
}

func observeLedger(op string, start time.Time) {
	metrics.LedgerLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
