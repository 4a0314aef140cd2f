package services

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"VoteCredit/internal/aptos"
	"VoteCredit/internal/bundles"
	"VoteCredit/internal/card"
	"VoteCredit/internal/custody"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/metrics"
	"VoteCredit/internal/models"
	"VoteCredit/internal/payments"
	"VoteCredit/internal/store"
	"VoteCredit/internal/verification"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrMissingUserID = errors.New("missing user id")
	ErrBadSignature  = errors.New("webhook signature mismatch")
)

// Verifier checks one rail's payment reference against an intent.
type Verifier interface {
	Verify(ctx context.Context, intent *models.Intent, ref string) (verification.Result, error)
}

type Checkout interface {
	CreateCheckout(ctx context.Context, req card.CheckoutRequest) (string, error)
}

type Submitter interface {
	Submit(ctx context.Context, signer aptos.Signer, payload aptos.Payload) (string, error)
}

// RailConfig is where each rail is paid and in what unit.
type RailConfig struct {
	CardCurrency      string
	CardMinorUnits    int
	CardRedirectURL   string
	CardWebhookSecret string

	SolanaMint     string
	SolanaDecimals int
	SolanaReceiver string

	AptosAsset    string
	AptosDecimals int
	AptosReceiver string
}

type IntentService struct {
	Store    store.Store
	Catalog  *bundles.Catalog
	Settler  *payments.Settler
	Rails    RailConfig
	Checkout Checkout

	// Verifiers holds one entry per enabled rail.
	Verifiers map[models.Rail]Verifier

	Keyring   *custody.Keyring
	Submitter Submitter

	// VerifyWait bounds how long a request waits for confirmation;
	// VerifyTimeout bounds the detached work that keeps running after it.
	VerifyWait    time.Duration
	VerifyTimeout time.Duration

	inflight sync.WaitGroup
}

type CreateRequest struct {
	UserID   string
	BundleID string
	Rail     models.Rail
	Email    string
}

type CreateResult struct {
	Intent        *models.Intent
	CheckoutURL   string
	Template      *aptos.Payload
	SubmittedHash string
}

func (s *IntentService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.UserID == "" {
		return nil, ErrMissingUserID
	}
	if !req.Rail.Valid() {
		return nil, verification.Invalid("unsupported rail %q", req.Rail)
	}
	if _, ok := s.Verifiers[req.Rail]; !ok {
		return nil, verification.Invalid("rail %s is not enabled", req.Rail)
	}
	bundle, err := s.Catalog.Resolve(req.BundleID)
	if err != nil {
		return nil, verification.Invalid("unknown bundle %q", req.BundleID)
	}

	now := time.Now().UTC()
	intent := &models.Intent{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Rail:        req.Rail,
		Status:      models.IntentPending,
		BundleID:    bundle.ID,
		Amount:      bundle.Price,
		CreditCount: bundle.Credits,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch req.Rail {
	case models.RailCard:
		if s.Checkout == nil {
			return nil, verification.Invalid("card checkout is not configured")
		}
		txRef := "vc-" + uuid.NewString()
		intent.TxRef = &txRef
		intent.Asset = s.Rails.CardCurrency
		intent.Decimals = s.Rails.CardMinorUnits
		// Rounded up, like the chain rails, so a sub-cent price is never undercharged.
		intent.AmountRaw = bundles.RawAmount(bundle.Price, s.Rails.CardMinorUnits)
	case models.RailAccountChain:
		if err := s.fillChain(ctx, intent, s.Rails.SolanaReceiver, s.Rails.SolanaMint, s.Rails.SolanaDecimals); err != nil {
			return nil, err
		}
	case models.RailMoveChain:
		if err := s.fillChain(ctx, intent, s.Rails.AptosReceiver, s.Rails.AptosAsset, s.Rails.AptosDecimals); err != nil {
			return nil, err
		}
		if err := normalizeMove(intent); err != nil {
			return nil, err
		}
	}

	if err := s.Store.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	logger.Info("intent created",
		zap.String("intent_id", intent.ID),
		zap.String("user_id", intent.UserID),
		zap.String("rail", string(intent.Rail)),
		zap.String("amount_raw", intent.AmountRaw),
	)

	res := &CreateResult{Intent: intent}
	switch req.Rail {
	case models.RailCard:
		link, err := s.Checkout.CreateCheckout(ctx, card.CheckoutRequest{
			TxRef:       *intent.TxRef,
			Amount:      chargeAmount(intent.AmountRaw, s.Rails.CardMinorUnits),
			Currency:    s.Rails.CardCurrency,
			RedirectURL: s.Rails.CardRedirectURL,
			Customer:    card.Customer{Email: req.Email},
			Meta:        map[string]string{"intent_id": intent.ID},
		})
		if err != nil {
			logger.Error("checkout creation failed", zap.String("intent_id", intent.ID), zap.Error(err))
			if _, ferr := s.Settler.Fail(ctx, intent.ID, "checkout unavailable"); ferr != nil {
				logger.Error("fail intent", zap.String("intent_id", intent.ID), zap.Error(ferr))
			}
			return nil, verification.Transient("checkout unavailable")
		}
		res.CheckoutURL = link
	case models.RailMoveChain:
		payload := aptos.TransferPayload(intent.Asset, intent.ToAddress, intent.AmountRaw)
		out, hash := s.custodialTransfer(ctx, intent, payload)
		res.Intent = out
		res.SubmittedHash = hash
		if hash == "" {
			res.Template = &payload
		}
	}
	return res, nil
}

func (s *IntentService) fillChain(ctx context.Context, intent *models.Intent, receiver, asset string, decimals int) error {
	if receiver == "" || asset == "" {
		return verification.Invalid("rail %s has no receiving wallet", intent.Rail)
	}
	from, err := s.Store.WalletAddress(ctx, intent.UserID, intent.Rail.Chain())
	if errors.Is(err, store.ErrNotFound) {
		return verification.Invalid("no %s wallet registered", intent.Rail.Chain())
	}
	if err != nil {
		return err
	}
	intent.FromAddress = from
	intent.ToAddress = receiver
	intent.Asset = asset
	intent.Decimals = decimals
	intent.AmountRaw = bundles.RawAmount(intent.Amount, decimals)
	return nil
}

func normalizeMove(intent *models.Intent) error {
	from, err := aptos.NormalizeAddress(intent.FromAddress)
	if err != nil {
		return verification.Invalid("registered wallet: %v", err)
	}
	to, err := aptos.NormalizeAddress(intent.ToAddress)
	if err != nil {
		return verification.Invalid("receiving wallet: %v", err)
	}
	asset, err := aptos.NormalizeAsset(intent.Asset)
	if err != nil {
		return verification.Invalid("asset: %v", err)
	}
	intent.FromAddress, intent.ToAddress, intent.Asset = from, to, asset
	return nil
}

// custodialTransfer pays the intent from a server-held key when one exists.
// It returns "" when nothing was submitted and the client must sign instead.
// Once a transaction is submitted the intent is never handed back for client
// signing, even if confirmation is still pending.
func (s *IntentService) custodialTransfer(ctx context.Context, intent *models.Intent, payload aptos.Payload) (*models.Intent, string) {
	if s.Keyring == nil || s.Submitter == nil {
		return intent, ""
	}
	capability := s.Keyring.Lookup(ctx, s.Store, intent.UserID, intent.FromAddress)
	if !capability.Available() {
		logger.Debug("custodial transfer unavailable",
			zap.String("intent_id", intent.ID),
			zap.String("reason", capability.Reason),
		)
		return intent, ""
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.VerifyTimeout)
	defer cancel()

	hash, err := s.Submitter.Submit(dctx, capability.Signer, payload)
	if err != nil {
		logger.Warn("custodial submit failed, falling back to client signing",
			zap.String("intent_id", intent.ID),
			zap.Error(err),
		)
		return intent, ""
	}
	if err := s.Store.RecordCandidate(dctx, intent.ID, hash); err != nil {
		logger.Warn("record candidate", zap.String("intent_id", intent.ID), zap.Error(err))
	}
	intent.CandidateReference = &hash

	out, err := s.wait(ctx, intent, hash)
	if err != nil {
		logger.Warn("custodial transfer not settled",
			zap.String("intent_id", intent.ID),
			zap.String("hash", hash),
			zap.Error(err),
		)
	}
	return out, hash
}

// Verify checks ref against the caller's intent and settles it on success.
// A completed intent is returned as is.
func (s *IntentService) Verify(ctx context.Context, userID, intentID, ref string) (*models.Intent, error) {
	intent, err := s.Status(ctx, userID, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return intent, nil
	}
	if ref == "" && intent.Rail != models.RailCard {
		return nil, verification.Invalid("externalReference is required")
	}
	if intent.Rail == models.RailMoveChain {
		ref = aptos.NormalizeHash(ref)
	}

	if ref != "" {
		owner, err := s.Store.GetIntentByReference(ctx, ref)
		switch {
		case err == nil && owner.ID != intent.ID:
			metrics.ReplayConflictsTotal.Inc()
			logger.Warn("external reference replay rejected",
				zap.String("intent_id", intent.ID),
				zap.String("owner_intent_id", owner.ID),
				zap.String("external_reference", ref),
			)
			return nil, verification.ErrReplayConflict
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		if err := s.Store.RecordCandidate(ctx, intent.ID, ref); err != nil {
			return nil, err
		}
	}
	return s.wait(ctx, intent, ref)
}

// wait runs resolve detached from the caller and waits at most VerifyWait.
// After that the work continues in the background and the caller is told
// the payment is not yet confirmed.
func (s *IntentService) wait(ctx context.Context, intent *models.Intent, ref string) (*models.Intent, error) {
	type result struct {
		intent *models.Intent
		err    error
	}
	done := make(chan result, 1)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.VerifyTimeout)
		defer cancel()
		in, err := s.resolve(dctx, intent, ref)
		done <- result{in, err}
	}()

	timer := time.NewTimer(s.VerifyWait)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.intent, r.err
	case <-timer.C:
		return intent, verification.Transient("confirmation still in progress")
	case <-ctx.Done():
		return intent, verification.Transient("request ended before confirmation")
	}
}

// resolve is the single accept/reject path for polls, webhooks and the reconciler.
func (s *IntentService) resolve(ctx context.Context, intent *models.Intent, ref string) (*models.Intent, error) {
	v, ok := s.Verifiers[intent.Rail]
	if !ok {
		return intent, verification.Invalid("rail %s is not enabled", intent.Rail)
	}

	res, err := v.Verify(ctx, intent, ref)
	kind := verification.KindOf(err)
	if kind == verification.KindNone {
		metrics.VerificationsTotal.WithLabelValues(string(intent.Rail), "accepted").Inc()
	} else {
		metrics.VerificationsTotal.WithLabelValues(string(intent.Rail), string(kind)).Inc()
	}

	switch kind {
	case verification.KindNone:
		out, err := s.Settler.Settle(ctx, intent.ID, res)
		if err != nil {
			return intent, err
		}
		return out.Intent, nil
	case verification.KindRejected:
		logger.Info("verification rejected",
			zap.String("intent_id", intent.ID),
			zap.String("external_reference", ref),
			zap.Error(err),
		)
		var rej *verification.Rejection
		errors.As(err, &rej)
		failed, ferr := s.Settler.Fail(ctx, intent.ID, rej.Reason)
		if ferr != nil {
			return intent, ferr
		}
		if failed.Status == models.IntentCompleted {
			return failed, nil
		}
		return failed, err
	default:
		logger.Debug("verification not conclusive",
			zap.String("intent_id", intent.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return intent, err
	}
}

// Status returns the caller's intent. Intents of other users are not found.
func (s *IntentService) Status(ctx context.Context, userID, intentID string) (*models.Intent, error) {
	if userID == "" {
		return nil, ErrMissingUserID
	}
	if _, err := uuid.Parse(intentID); err != nil {
		return nil, verification.NotFound("intent %s", intentID)
	}
	intent, err := s.Store.GetIntent(ctx, intentID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && intent.UserID != userID) {
		return nil, verification.NotFound("intent %s", intentID)
	}
	return intent, err
}

func (s *IntentService) Bundles() []models.Bundle {
	return s.Catalog.List()
}

// HandleCardWebhook authenticates and applies a processor push. Unknown
// references and already-terminal intents are accepted without effect.
func (s *IntentService) HandleCardWebhook(ctx context.Context, signature string, body []byte) error {
	if !card.ValidWebhookSignature(signature, s.Rails.CardWebhookSecret) {
		return ErrBadSignature
	}
	ev, err := card.ParseWebhook(body)
	if err != nil {
		return err
	}

	intent, err := s.Store.GetIntentByTxRef(ctx, ev.Data.TxRef)
	if errors.Is(err, store.ErrNotFound) {
		logger.Info("webhook for unknown reference", zap.String("tx_ref", ev.Data.TxRef))
		return nil
	}
	if err != nil {
		return err
	}
	if intent.Status.Terminal() {
		return nil
	}

	if !ev.Successful() {
		_, err := s.Settler.Fail(ctx, intent.ID, "card status "+ev.Data.Status)
		return err
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.VerifyTimeout)
	defer cancel()
	// Only unclassified failures go back to the processor; a classified
	// outcome would be the same on every redelivery.
	_, err = s.resolve(dctx, intent, ev.Data.ID.String())
	switch kind := verification.KindOf(err); kind {
	case verification.KindNone:
		return nil
	case verification.KindInternal:
		return err
	default:
		logger.Info("webhook left intent unsettled",
			zap.String("intent_id", intent.ID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil
	}
}

// chargeAmount renders a minor-unit amount as the decimal the processor bills.
func chargeAmount(raw string, minorUnits int) string {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return d.Shift(-int32(minorUnits)).StringFixed(int32(minorUnits))
}

// ReconcilePending re-verifies PENDING intents of rail that already carry a
// reference. It returns how many reached a terminal state.
func (s *IntentService) ReconcilePending(ctx context.Context, rail models.Rail, limit int) (int, error) {
	if _, ok := s.Verifiers[rail]; !ok {
		return 0, nil
	}
	pending, err := s.Store.ListPending(ctx, rail, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, intent := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		ref := ""
		if intent.CandidateReference != nil {
			ref = *intent.CandidateReference
		}
		if ref == "" && rail != models.RailCard {
			continue
		}
		out, err := s.resolve(ctx, intent, ref)
		if out != nil && out.Status.Terminal() {
			resolved++
		} else if terr := s.Store.Touch(ctx, intent.ID); terr != nil {
			logger.Warn("touch intent", zap.String("intent_id", intent.ID), zap.Error(terr))
		}
		if err != nil && verification.KindOf(err) == verification.KindInternal {
			logger.Error("reconcile intent", zap.String("intent_id", intent.ID), zap.Error(err))
		}
	}
	return resolved, nil
}

// ResolveObserved settles the PENDING intent of one of payers that ref pays
// for. Listeners call it for transfers the client has not reported yet, so a
// transfer that does not satisfy an intent leaves that intent untouched.
//
// An intent the client already pointed at ref wins. Otherwise the payment
// goes to the largest intent it covers, which is the exact match when there
// is one. Two equally sized candidates are left for client verification.
func (s *IntentService) ResolveObserved(ctx context.Context, rail models.Rail, payers []string, ref string) (*models.Intent, error) {
	v, ok := s.Verifiers[rail]
	if !ok {
		return nil, verification.Invalid("rail %s is not enabled", rail)
	}
	if existing, err := s.Store.GetIntentByReference(ctx, ref); err == nil {
		return existing, nil
	}

	var pending []*models.Intent
	seen := map[string]bool{}
	for _, payer := range payers {
		list, err := s.Store.ListPendingByPayer(ctx, rail, payer)
		if err != nil {
			return nil, err
		}
		for _, intent := range list {
			if !seen[intent.ID] {
				seen[intent.ID] = true
				pending = append(pending, intent)
			}
		}
	}

	for _, intent := range pending {
		if intent.CandidateReference != nil && *intent.CandidateReference == ref {
			res, err := v.Verify(ctx, intent, ref)
			if err != nil {
				return nil, err
			}
			return s.settleObserved(ctx, rail, intent, res)
		}
	}

	var (
		best      *models.Intent
		bestRes   verification.Result
		ambiguous bool
	)
	for _, intent := range pending {
		res, err := v.Verify(ctx, intent, ref)
		if verification.IsRejection(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if best == nil {
			best, bestRes = intent, res
			continue
		}
		switch compareRaw(intent.AmountRaw, best.AmountRaw) {
		case 1:
			best, bestRes, ambiguous = intent, res, false
		case 0:
			ambiguous = true
		}
	}
	if best == nil {
		return nil, verification.NotFound("no pending intent for %s", ref)
	}
	if ambiguous {
		logger.Info("observed transfer matches several intents, waiting for client verify",
			zap.String("ref", ref),
			zap.String("amount_raw", best.AmountRaw),
		)
		return nil, verification.NotFound("several pending intents match %s", ref)
	}
	return s.settleObserved(ctx, rail, best, bestRes)
}

func (s *IntentService) settleObserved(ctx context.Context, rail models.Rail, intent *models.Intent, res verification.Result) (*models.Intent, error) {
	out, err := s.Settler.Settle(ctx, intent.ID, res)
	if err != nil {
		return nil, err
	}
	if out.Settled {
		metrics.VerificationsTotal.WithLabelValues(string(rail), "observed").Inc()
	}
	return out.Intent, nil
}

// compareRaw orders two base-10 integer amounts; unparseable sorts lowest.
func compareRaw(a, b string) int {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	switch {
	case !okA && !okB:
		return 0
	case !okA:
		return -1
	case !okB:
		return 1
	}
	return x.Cmp(y)
}

// Wait blocks until detached verifications have finished.
func (s *IntentService) Wait() {
	s.inflight.Wait()
}
