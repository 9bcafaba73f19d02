package engine

import (
	"errors"
	"math"
	"time"

	"github.com/GhostKellz/ghostflow/pkg/api"
)

type backoffCalculator func(baseMs int64, retryCount int) int64

var backoffCalculators = map[string]backoffCalculator{
	api.BackoffTypeFixed: func(base int64, _ int) int64 {
		return base
	},
	api.BackoffTypeLinear: func(base int64, count int) int64 {
		return base * int64(count+1)
	},
	api.BackoffTypeExponential: func(base int64, count int) int64 {
		delay := float64(base) * math.Pow(2, float64(count))
		if delay >= math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(delay)
	},
}

// effectiveRetry fills the unset fields of a node's retry configuration
// from the engine defaults. A node without retry config never retries
func (e *Engine) effectiveRetry(n *api.Node) api.RetryConfig {
	if n.Retry == nil {
		return api.RetryConfig{}
	}
	res := *n.Retry
	if res.BackoffMs == 0 {
		res.BackoffMs = e.config.Retry.InitBackoff
	}
	if res.MaxBackoffMs == 0 {
		res.MaxBackoffMs = max(e.config.Retry.MaxBackoff, res.BackoffMs)
	}
	if res.BackoffType == "" {
		res.BackoffType = e.config.Retry.BackoffType
	}
	return res
}

// shouldRetry reports whether a failed attempt is retried. Only retryable
// failures from retry-capable nodes with budget left qualify
func shouldRetry(
	cfg api.RetryConfig, supportsRetry bool, retryCount int,
	info *api.ErrorInfo,
) bool {
	if !supportsRetry || info == nil || !info.Retryable {
		return false
	}
	return retryCount < cfg.MaxRetries
}

// classify converts a node failure into its persisted form. Validation
// failures are never retryable, even when they wrap a retryable cause
func classify(id api.NodeID, err error) *api.ErrorInfo {
	info := api.ErrorInfoOf(err)
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		info.Kind = api.KindValidation
		info.Retryable = false
	}
	if info.NodeID == "" {
		info.NodeID = id
	}
	return info
}

// backoffDelay returns the delay before retry number retryCount+1
func backoffDelay(cfg api.RetryConfig, retryCount int) time.Duration {
	calc, ok := backoffCalculators[cfg.BackoffType]
	if !ok {
		calc = backoffCalculators[api.BackoffTypeExponential]
	}
	delayMs := calc(cfg.BackoffMs, retryCount)
	if cfg.MaxBackoffMs > 0 {
		delayMs = min(delayMs, cfg.MaxBackoffMs)
	}
	return time.Duration(delayMs) * time.Millisecond
}
