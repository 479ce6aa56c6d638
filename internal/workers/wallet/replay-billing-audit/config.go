// internal/workers/wallet/replay-billing-audit/config.go
package replaybillingaudit

import (
	"time"

	"appeals-workers/internal/common/config"
)

type Config struct {
	Timeout   time.Duration
	BatchSize int
}

func LoadConfig(wcfg config.WorkerConfig, wallet config.WalletConfig) *Config {
	timeout := config.GetDuration(wcfg.Timeout)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	batch := wallet.ReplayBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Config{
		Timeout:   timeout,
		BatchSize: batch,
	}
}
