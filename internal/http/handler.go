package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"VoteCredit/internal/aptos"
	"VoteCredit/internal/card"
	"VoteCredit/internal/logger"
	"VoteCredit/internal/models"
	"VoteCredit/internal/services"
	"VoteCredit/internal/verification"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	userHeader   = "X-User-Id"
	maxBodyBytes = 1 << 20
)

type Handler struct {
	Intents *services.IntentService
}

type createIntentRequest struct {
	BundleID string `json:"bundleId"`
	Rail     string `json:"rail"`
	Email    string `json:"email"`
}

type verifyRequest struct {
	IntentID          string `json:"intentId"`
	ExternalReference string `json:"externalReference"`
}

type intentResponse struct {
	IntentID            string         `json:"intentId"`
	Status              string         `json:"status"`
	Rail                string         `json:"rail"`
	BundleID            string         `json:"bundleId"`
	CreditCount         int64          `json:"creditCount"`
	Amount              string         `json:"amount"`
	AmountRaw           string         `json:"amountRaw"`
	Asset               string         `json:"assetIdentifier"`
	Decimals            int            `json:"decimals"`
	ToAddress           string         `json:"toAddress,omitempty"`
	FromAddress         string         `json:"fromAddress,omitempty"`
	ExternalReference   string         `json:"externalReference,omitempty"`
	CheckoutURL         string         `json:"checkoutUrl,omitempty"`
	TransactionTemplate *aptos.Payload `json:"transactionTemplate,omitempty"`
	SubmittedHash       string         `json:"submittedHash,omitempty"`
	CreatedAt           string         `json:"createdAt"`
	CompletedAt         string         `json:"completedAt,omitempty"`
}

type verifyResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Intent *intentResponse `json:"intent,omitempty"`
}

type bundleResponse struct {
	ID          string `json:"id"`
	CreditCount int64  `json:"creditCount"`
	Price       string `json:"price"`
}

func NewHandler(intents *services.IntentService) *Handler {
	return &Handler{Intents: intents}
}

func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := h.Intents.Create(r.Context(), services.CreateRequest{
		UserID:   r.Header.Get(userHeader),
		BundleID: req.BundleID,
		Rail:     models.Rail(req.Rail),
		Email:    req.Email,
	})
	if err != nil {
		if verification.KindOf(err) == verification.KindTransient {
			writeError(w, http.StatusServiceUnavailable, "payment provider unavailable")
			return
		}
		writeServiceError(w, err, "create intent failed")
		return
	}

	resp := toIntentResponse(res.Intent)
	resp.CheckoutURL = res.CheckoutURL
	resp.TransactionTemplate = res.Template
	resp.SubmittedHash = res.SubmittedHash
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.IntentID == "" {
		writeError(w, http.StatusBadRequest, "missing intent id")
		return
	}

	intent, err := h.Intents.Verify(r.Context(), r.Header.Get(userHeader), req.IntentID, req.ExternalReference)
	switch verification.KindOf(err) {
	case verification.KindNone:
		writeJSON(w, http.StatusOK, verifyResponse{Status: string(intent.Status), Intent: toIntentResponse(intent)})
	case verification.KindTransient:
		resp := verifyResponse{Status: string(models.IntentPending), Error: "payment not yet confirmed, retry later"}
		if intent != nil {
			resp.Intent = toIntentResponse(intent)
		}
		writeJSON(w, http.StatusAccepted, resp)
	case verification.KindRejected:
		resp := verifyResponse{Status: string(models.IntentFailed), Error: "payment not confirmed"}
		if intent != nil {
			resp.Intent = toIntentResponse(intent)
		}
		writeJSON(w, http.StatusPaymentRequired, resp)
	default:
		writeServiceError(w, err, "verify failed")
	}
}

func (h *Handler) GetIntent(w http.ResponseWriter, r *http.Request) {
	intentID := chi.URLParam(r, "intentId")
	if intentID == "" {
		writeError(w, http.StatusBadRequest, "missing intent id")
		return
	}

	intent, err := h.Intents.Status(r.Context(), r.Header.Get(userHeader), intentID)
	if err != nil {
		writeServiceError(w, err, "get intent failed")
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(intent))
}

func (h *Handler) ListBundles(w http.ResponseWriter, r *http.Request) {
	list := h.Intents.Bundles()
	out := make([]bundleResponse, 0, len(list))
	for _, b := range list {
		out = append(out, bundleResponse{ID: b.ID, CreditCount: b.Credits, Price: b.Price.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"bundles": out})
}

func (h *Handler) CardWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	err = h.Intents.HandleCardWebhook(r.Context(), r.Header.Get(card.SignatureHeader), body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, services.ErrBadSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, verification.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
	default:
		logger.Error("card webhook failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
	}
}

func toIntentResponse(i *models.Intent) *intentResponse {
	resp := &intentResponse{
		IntentID:          i.ID,
		Status:            string(i.Status),
		Rail:              string(i.Rail),
		BundleID:          i.BundleID,
		CreditCount:       i.CreditCount,
		Amount:            i.Amount.String(),
		AmountRaw:         i.AmountRaw,
		Asset:             i.Asset,
		Decimals:          i.Decimals,
		ToAddress:         i.ToAddress,
		FromAddress:       i.FromAddress,
		ExternalReference: i.Reference(),
		CreatedAt:         i.CreatedAt.Format(time.RFC3339),
	}
	if i.CompletedAt != nil {
		resp.CompletedAt = i.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, services.ErrMissingUserID) {
		writeError(w, http.StatusUnauthorized, "missing user id")
		return
	}
	switch verification.KindOf(err) {
	case verification.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error())
	case verification.KindNotFound:
		writeError(w, http.StatusNotFound, "intent not found")
	case verification.KindReplay:
		writeError(w, http.StatusConflict, "external reference already used")
	case verification.KindRejected:
		writeError(w, http.StatusPaymentRequired, "payment not confirmed")
	case verification.KindTransient:
		writeError(w, http.StatusAccepted, "payment not yet confirmed, retry later")
	default:
		logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
