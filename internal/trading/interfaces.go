package trading

import (
	"context"

	"github.com/songzhibin97/sellflux/internal/models"
)

// SellExecutor defines methods for executing sells
type SellExecutor interface {
	// Handle resolves the token position and executes the instruction against it
	Handle(ctx context.Context, instr models.SellInstruction) error

	// ExecuteSell prices the sell against the latest buy and records it
	ExecuteSell(ctx context.Context, position *models.TokenPerformance, instr models.SellInstruction) (*models.SellDetails, error)
}
