package lend

import (
	"context"
	"strings"
)

// Deposit supplies collateral to a market and returns the updated position.
func (c *Client) Deposit(ctx context.Context, user, asset, amount string) (*Position, error) {
	return c.mutatePosition(ctx, "lend_deposit", user, asset, amount)
}

// Borrow draws liquidity from a market against the caller's collateral.
func (c *Client) Borrow(ctx context.Context, user, asset, amount string) (*Position, error) {
	return c.mutatePosition(ctx, "lend_borrow", user, asset, amount)
}

// Withdraw redeems supplied collateral back to the user's balance.
func (c *Client) Withdraw(ctx context.Context, user, asset, amount string) (*Position, error) {
	return c.mutatePosition(ctx, "lend_withdraw", user, asset, amount)
}

func (c *Client) mutatePosition(ctx context.Context, method, user, asset, amount string) (*Position, error) {
	params := AmountParams{User: user, Asset: asset, Amount: strings.TrimSpace(amount)}
	var position Position
	if err := c.call(ctx, method, []interface{}{params}, false, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

// Repay settles outstanding debt. An empty amount repays everything owed
// including settled interest.
func (c *Client) Repay(ctx context.Context, user, asset, amount string) (*RepayReceipt, error) {
	params := AmountParams{User: user, Asset: asset, Amount: strings.TrimSpace(amount)}
	var receipt RepayReceipt
	if err := c.call(ctx, "lend_repay", []interface{}{params}, false, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Liquidate covers a portion of an unhealthy borrower's debt in exchange for
// discounted collateral.
func (c *Client) Liquidate(ctx context.Context, params LiquidationParams) (*LiquidationReceipt, error) {
	var receipt LiquidationReceipt
	if err := c.call(ctx, "lend_liquidate", []interface{}{params}, false, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// GetMarket fetches a single market by asset symbol.
func (c *Client) GetMarket(ctx context.Context, asset string) (*Market, error) {
	var market Market
	if err := c.call(ctx, "lend_getMarket", []interface{}{strings.TrimSpace(asset)}, false, &market); err != nil {
		return nil, err
	}
	return &market, nil
}

// ListMarkets fetches every onboarded market plus the risk configuration.
func (c *Client) ListMarkets(ctx context.Context) (*MarketList, error) {
	var list MarketList
	if err := c.call(ctx, "lend_listMarkets", nil, false, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListAssets fetches the asset symbols in onboarding order.
func (c *Client) ListAssets(ctx context.Context) ([]string, error) {
	var result struct {
		Assets []string `json:"assets"`
	}
	if err := c.call(ctx, "lend_listAssets", nil, false, &result); err != nil {
		return nil, err
	}
	return result.Assets, nil
}

// GetAccount fetches the raw stored balances for a user in one market.
func (c *Client) GetAccount(ctx context.Context, user, asset string) (*Account, error) {
	params := accountParams{User: user, Asset: strings.TrimSpace(asset)}
	var account Account
	if err := c.call(ctx, "lend_getAccount", []interface{}{params}, false, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetPosition fetches balances plus the pending interest view.
func (c *Client) GetPosition(ctx context.Context, user, asset string) (*Position, error) {
	params := accountParams{User: user, Asset: strings.TrimSpace(asset)}
	var position Position
	if err := c.call(ctx, "lend_getPosition", []interface{}{params}, false, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

// HealthFactor fetches the solvency report for a user across all markets.
func (c *Client) HealthFactor(ctx context.Context, user string) (*HealthReport, error) {
	var report HealthReport
	if err := c.call(ctx, "lend_getHealthFactor", []interface{}{strings.TrimSpace(user)}, false, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// CreateMarket onboards a new asset market. Requires the admin token.
func (c *Client) CreateMarket(ctx context.Context, params CreateMarketParams) (*Market, error) {
	var market Market
	if err := c.call(ctx, "lend_createMarket", []interface{}{params}, true, &market); err != nil {
		return nil, err
	}
	return &market, nil
}

// SetMarketActive pauses or resumes a market. Requires the admin token.
func (c *Client) SetMarketActive(ctx context.Context, asset string, active bool) (*Market, error) {
	params := setMarketActiveParams{Asset: strings.TrimSpace(asset), Active: active}
	var market Market
	if err := c.call(ctx, "lend_setMarketActive", []interface{}{params}, true, &market); err != nil {
		return nil, err
	}
	return &market, nil
}

// Accrue forces a pooled interest settlement for one market. Requires the
// admin token.
func (c *Client) Accrue(ctx context.Context, asset string) (*AccrualReceipt, error) {
	var receipt AccrualReceipt
	if err := c.call(ctx, "lend_accrue", []interface{}{strings.TrimSpace(asset)}, true, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Checkpoint persists a ledger snapshot and returns its digest. Requires the
// admin token.
func (c *Client) Checkpoint(ctx context.Context) (*CheckpointReceipt, error) {
	var receipt CheckpointReceipt
	if err := c.call(ctx, "lend_checkpoint", nil, true, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Fund mints balance on a dev-mode node faucet. Requires the admin token.
func (c *Client) Fund(ctx context.Context, user, asset, amount string) (*FaucetReceipt, error) {
	params := AmountParams{User: user, Asset: asset, Amount: strings.TrimSpace(amount)}
	var receipt FaucetReceipt
	if err := c.call(ctx, "lend_fund", []interface{}{params}, true, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}
