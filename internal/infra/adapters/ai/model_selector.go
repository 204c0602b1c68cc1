package ai

import (
	"sales-crm-docgen/internal/config"
	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
)

var _ adapter.ModelSelector = ConfigModelSelector{}

// ConfigModelSelector reads the per-action model table from config.
type ConfigModelSelector struct {
	AI config.AIConfig
}

func (s ConfigModelSelector) ModelFor(action model.Action) string {
	return s.AI.ModelFor(string(action))
}
