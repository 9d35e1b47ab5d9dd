package cfg

import (
	"fmt"
	"time"
)

func validateSettings(settings *Settings) error {
	if settings.DataPath == "" {
		return fmt.Errorf("data path cannot be empty")
	}

	if settings.HTTPPort < 1024 || settings.HTTPPort > 65535 {
		return fmt.Errorf("HTTP port must be between 1024 and 65535, got %d", settings.HTTPPort)
	}
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.HTTPPort == settings.MetricsPort {
		return fmt.Errorf("HTTP and metrics ports must differ, both are %d", settings.HTTPPort)
	}

	if settings.CacheTTL < time.Second || settings.CacheTTL > time.Hour {
		return fmt.Errorf("cache TTL must be between 1s and 1h, got %v", settings.CacheTTL)
	}
	if settings.RateLimitMax <= 0 || settings.RateLimitMax > 100000 {
		return fmt.Errorf("rate limit max must be between 1 and 100000, got %d", settings.RateLimitMax)
	}
	if settings.RateLimitWin < time.Second || settings.RateLimitWin > time.Hour {
		return fmt.Errorf("rate limit window must be between 1s and 1h, got %v", settings.RateLimitWin)
	}
	if settings.SubBatchSize <= 0 || settings.SubBatchSize > 1000 {
		return fmt.Errorf("sub-batch size must be between 1 and 1000, got %d", settings.SubBatchSize)
	}
	if settings.MaxConcurrency <= 0 || settings.MaxConcurrency > 256 {
		return fmt.Errorf("max concurrency must be between 1 and 256, got %d", settings.MaxConcurrency)
	}
	if settings.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", settings.QueueCapacity)
	}

	if settings.MinTrainingSamples <= 0 {
		return fmt.Errorf("minimum training samples must be positive, got %d", settings.MinTrainingSamples)
	}
	if settings.CVFolds < 2 || settings.CVFolds > 20 {
		return fmt.Errorf("cross-validation folds must be between 2 and 20, got %d", settings.CVFolds)
	}

	if settings.MinDataPoints <= 0 {
		return fmt.Errorf("minimum data points must be positive, got %d", settings.MinDataPoints)
	}
	if settings.MinCompleteness <= 0 || settings.MinCompleteness > 1 {
		return fmt.Errorf("minimum completeness must be in (0,1], got %f", settings.MinCompleteness)
	}

	if settings.DriftWindowDays <= 0 || settings.DriftWindowDays > 365 {
		return fmt.Errorf("drift window must be between 1 and 365 days, got %d", settings.DriftWindowDays)
	}
	if settings.DriftThreshold <= 0 || settings.DriftThreshold > 1 {
		return fmt.Errorf("drift threshold must be in (0,1], got %f", settings.DriftThreshold)
	}

	if settings.ABTrafficSplit <= 0 || settings.ABTrafficSplit >= 1 {
		return fmt.Errorf("A/B traffic split must be in (0,1), got %f", settings.ABTrafficSplit)
	}
	if settings.ABConfidence < 0.5 || settings.ABConfidence > 0.999 {
		return fmt.Errorf("A/B confidence must be between 0.5 and 0.999, got %f", settings.ABConfidence)
	}
	if settings.ABMinSampleSize <= 0 {
		return fmt.Errorf("A/B minimum sample size must be positive, got %d", settings.ABMinSampleSize)
	}
	if settings.ABCheckEvery <= 0 {
		return fmt.Errorf("A/B check interval must be positive, got %d", settings.ABCheckEvery)
	}

	return nil
}
