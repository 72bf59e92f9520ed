// Package vault reconstructs liquidity-deposit positions from the indexer's
// vault action history.
package vault

import (
	"sort"
	"time"

	"pnldash/src/connectors"
	"pnldash/src/model"
	"pnldash/src/pricing"
)

const hoursPerYear = 24 * 365

type state struct {
	asset       string
	apr         float64
	shares      float64
	deposited   float64
	firstActive time.Time
}

// BuildPositions folds the deposit/withdraw history into current positions.
// Earnings are an APY accrual estimate over time in the vault, the protocol
// does not report realized vault earnings on-chain.
func BuildPositions(actions []connectors.GraphVaultAction, now time.Time) []model.VaultPosition {
	vaults := make(map[string]*state)
	var order []string

	for i := range actions {
		act := &actions[i]
		vs, ok := vaults[act.Vault.ID]
		if !ok {
			vs = &state{asset: act.Vault.Asset}
			if apr := pricing.FromFixedPointString(act.Vault.Apr); apr != nil {
				vs.apr = *apr
			}
			vaults[act.Vault.ID] = vs
			order = append(order, act.Vault.ID)
		}

		amount := pricing.FromFixedPointString(act.Amount)
		shares := pricing.FromFixedPointString(act.Shares)
		ts, hasTs := pricing.ParseUnixTimestamp(act.Timestamp)

		switch act.Kind {
		case "deposit":
			if amount != nil {
				vs.deposited += *amount
			}
			if shares != nil {
				vs.shares += *shares
			}
			if hasTs && vs.firstActive.IsZero() {
				vs.firstActive = time.Unix(ts, 0).UTC()
			}
		case "withdraw":
			// Withdrawals reduce the cost basis pro-rata by shares.
			if shares != nil && vs.shares > 0 {
				fraction := *shares / vs.shares
				if fraction > 1 {
					fraction = 1
				}
				vs.deposited -= vs.deposited * fraction
				vs.shares -= *shares
			}
		}
	}

	var out []model.VaultPosition
	for _, id := range order {
		vs := vaults[id]
		if vs.shares <= 0 || vs.deposited <= 0 {
			continue
		}

		earnings := 0.0
		if vs.apr > 0 && !vs.firstActive.IsZero() && now.After(vs.firstActive) {
			elapsedYears := now.Sub(vs.firstActive).Hours() / hoursPerYear
			earnings = vs.deposited * (vs.apr / 100) * elapsedYears
		}

		pos := model.VaultPosition{
			Vault:         id,
			Asset:         vs.asset,
			Shares:        vs.shares,
			DepositAmount: vs.deposited,
			CurrentValue:  vs.deposited + earnings,
			Earnings:      earnings,
		}
		if !vs.firstActive.IsZero() {
			t := vs.firstActive
			pos.DepositedAt = &t
		}
		out = append(out, pos)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DepositAmount > out[j].DepositAmount
	})
	return out
}

// Totals sums the endpoint aggregates.
func Totals(positions []model.VaultPosition) (deposited, current, earnings float64) {
	for _, p := range positions {
		deposited += p.DepositAmount
		current += p.CurrentValue
		earnings += p.Earnings
	}
	return deposited, current, earnings
}
