package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/payrelay/payrelay/infra/config"
	"github.com/payrelay/payrelay/infra/response"
)

// SettingsHandler manages merchant webhook and notification settings
type SettingsHandler struct {
	storage  config.SettingsStorage
	validate *validator.Validate
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(storage config.SettingsStorage, validate *validator.Validate) *SettingsHandler {
	return &SettingsHandler{
		storage:  storage,
		validate: validate,
	}
}

type settingsRequest struct {
	WebhookURL    string   `json:"webhookUrl" validate:"omitempty,url"`
	Events        []string `json:"events" validate:"dive,oneof=payment.success payment.failed payment.pending"`
	Notifications []string `json:"notifications"`
}

// SaveSettings upserts settings for a merchant
func (h *SettingsHandler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	if merchantID == "" {
		response.Error(w, http.StatusBadRequest, "Merchant ID is required", nil)
		return
	}

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.Error(w, http.StatusBadRequest, "Validation error", err)
		return
	}

	settings := config.MerchantSettings{
		MerchantID:    merchantID,
		WebhookURL:    req.WebhookURL,
		Events:        req.Events,
		Notifications: req.Notifications,
	}

	if err := h.storage.SaveMerchantSettings(&settings); err != nil {
		response.Error(w, http.StatusInternalServerError, "Failed to save settings", err)
		return
	}

	response.Success(w, http.StatusOK, "Settings saved", settings)
}

// GetSettings returns settings for a merchant
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	merchantID := chi.URLParam(r, "merchantID")
	if merchantID == "" {
		response.Error(w, http.StatusBadRequest, "Merchant ID is required", nil)
		return
	}

	settings, err := h.storage.GetMerchantSettings(merchantID)
	if err != nil {
		if errors.Is(err, config.ErrSettingsNotFound) {
			response.Error(w, http.StatusNotFound, "Settings not found", err)
			return
		}
		response.Error(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	response.Success(w, http.StatusOK, "Settings retrieved", settings)
}
