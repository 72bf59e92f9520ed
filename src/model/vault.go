package model

import "time"

// VaultPosition tracks a liquidity-deposit lifecycle. Earnings are an APY
// accrual estimate over elapsed time, not an on-chain observation.
type VaultPosition struct {
	Vault         string     `json:"vault"`
	Asset         string     `json:"asset"`
	Shares        float64    `json:"shares"`
	DepositAmount float64    `json:"deposit_amount"`
	CurrentValue  float64    `json:"current_value"`
	Earnings      float64    `json:"earnings"`
	DepositedAt   *time.Time `json:"deposited_at,omitempty"`
}
