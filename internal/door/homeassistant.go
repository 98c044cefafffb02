// Package door contains the door opener drivers. Each driver opens the door
// once per TriggerOpen call and honours the context deadline.
package door

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HomeAssistant presses a button entity through the Home Assistant REST
// API.
type HomeAssistant struct {
	httpClient *resty.Client
	entityID   string
	logger     *zap.Logger
}

func NewHomeAssistant(baseURL, token, entityID string, logger *zap.Logger) *HomeAssistant {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &HomeAssistant{
		httpClient: client,
		entityID:   entityID,
		logger:     logger.Named("door.homeassistant"),
	}
}

func (h *HomeAssistant) TriggerOpen(ctx context.Context) error {
	resp, err := h.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"entity_id": h.entityID}).
		Post("/api/services/button/press")
	if err != nil {
		return fmt.Errorf("home assistant request: %w", err)
	}
	if resp.IsError() {
		h.logger.Error("Home Assistant rejected button press",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("entity_id", h.entityID),
		)
		return fmt.Errorf("home assistant returned %d", resp.StatusCode())
	}
	h.logger.Debug("button pressed", zap.String("entity_id", h.entityID))
	return nil
}
