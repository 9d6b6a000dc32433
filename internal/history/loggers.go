package history

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/staketrack/staketrack/pkg/types"
)

// Convenience loggers for the well-known scenarios. Each one only builds
// the details payload and delegates to LogOperation; validation and
// serialization semantics are identical to the core method.

// LogAnalysisStart records the beginning of an analysis run.
func (m *Manager) LogAnalysisStart(ctx context.Context, analysisType string, parameters map[string]any, userID string) (string, error) {
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpAnalysisStart,
		Component: "analyzer",
		Details: map[string]any{
			"analysis_type": analysisType,
			"parameters":    parameters,
		},
		Success: true,
		UserID:  userID,
	})
}

// LogAnalysisComplete records a finished analysis run.
func (m *Manager) LogAnalysisComplete(ctx context.Context, analysisType string, participantsProcessed int, durationMS float64, userID string) (string, error) {
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpAnalysisComplete,
		Component: "analyzer",
		Details: map[string]any{
			"analysis_type":          analysisType,
			"participants_processed": participantsProcessed,
		},
		Success:    true,
		UserID:     userID,
		DurationMS: &durationMS,
	})
}

// LogParticipantCategorized records a participant classification decision.
func (m *Manager) LogParticipantCategorized(ctx context.Context, participantAddress, category string, confidence float64, userID string) (string, error) {
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpParticipantCategorized,
		Component: "category_analyzer",
		Details: map[string]any{
			"participant_address": participantAddress,
			"category":            category,
			"confidence":          confidence,
		},
		Success: true,
		UserID:  userID,
	})
}

// LogRewardCalculated records a computed reward. The amount is persisted
// as an exact-precision string.
func (m *Manager) LogRewardCalculated(ctx context.Context, participantAddress string, rewardAmount decimal.Decimal, tier string, multipliers map[string]float64, userID string) (string, error) {
	mults := make(map[string]any, len(multipliers))
	for k, v := range multipliers {
		mults[k] = v
	}
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpRewardCalculated,
		Component: "reward_manager",
		Details: map[string]any{
			"participant_address": participantAddress,
			"reward_amount":       rewardAmount,
			"tier":                tier,
			"multipliers":         mults,
		},
		Success: true,
		UserID:  userID,
	})
}

// LogPaymentRegistered records a newly registered payment.
func (m *Manager) LogPaymentRegistered(ctx context.Context, paymentID, participantAddress string, amount decimal.Decimal, userID string) (string, error) {
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpPaymentRegistered,
		Component: "duplicate_protection",
		Details: map[string]any{
			"payment_id":          paymentID,
			"participant_address": participantAddress,
			"amount":              amount,
		},
		Success: true,
		UserID:  userID,
	})
}

// LogBlockchainQuery records one on-chain call, successful or not.
func (m *Manager) LogBlockchainQuery(ctx context.Context, queryType, contractAddress, method string, parameters []any, durationMS float64, success bool, errorMessage, userID string) (string, error) {
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpBlockchainQuery,
		Component: "blockchain",
		Details: map[string]any{
			"query_type":       queryType,
			"contract_address": contractAddress,
			"method":           method,
			"parameters":       parameters,
		},
		Success:      success,
		UserID:       userID,
		DurationMS:   &durationMS,
		ErrorMessage: errorMessage,
	})
}

// LogCacheOperation records a cache hit or miss.
func (m *Manager) LogCacheOperation(ctx context.Context, cacheType, key string, hit bool, userID string) (string, error) {
	kind := types.OpCacheMiss
	if hit {
		kind = types.OpCacheHit
	}
	return m.LogOperation(ctx, Entry{
		Kind:      kind,
		Component: "cache",
		Details: map[string]any{
			"cache_type": cacheType,
			"key":        key,
		},
		Success: true,
		UserID:  userID,
	})
}

// LogError records a failure in any component.
func (m *Manager) LogError(ctx context.Context, component, errorType, errorMessage string, errCtx map[string]any, userID string) (string, error) {
	return m.LogOperation(ctx, Entry{
		Kind:      types.OpErrorOccurred,
		Component: component,
		Details: map[string]any{
			"error_type": errorType,
			"context":    errCtx,
		},
		Success:      false,
		UserID:       userID,
		ErrorMessage: errorMessage,
	})
}
