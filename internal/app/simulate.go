package app

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"goldsynth/internal/domain"
)

// SimulateMint 按给定的 USD 金额与金价模拟一次铸造, 打印费用拆解。
// 只做数学推演, 不触碰任何运行中状态。
func (a *App) SimulateMint(usdAmount, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("价格必须为正: %s", price)
	}
	if !domain.AmountInBounds(usdAmount) {
		return fmt.Errorf("%w: usd amount %s outside bounds", domain.ErrInvalidAmount, usdAmount)
	}

	gross := domain.DivFloor(usdAmount, price)
	fee := domain.BpsFee(gross, a.Config.Token.MintFeeBps)
	net := gross.Sub(fee)

	fmt.Fprintf(os.Stdout, "USD in:       %s\n", usdAmount.String())
	fmt.Fprintf(os.Stdout, "Gold price:   %s USD/oz\n", price.String())
	fmt.Fprintf(os.Stdout, "Gross tokens: %s\n", gross.String())
	fmt.Fprintf(os.Stdout, "Mint fee:     %s (%d bps)\n", fee.String(), a.Config.Token.MintFeeBps)
	fmt.Fprintf(os.Stdout, "Net tokens:   %s\n", net.String())
	return nil
}

// SimulateRedeem 模拟一次赎回的费用拆解。
func (a *App) SimulateRedeem(tokenAmount, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("价格必须为正: %s", price)
	}
	if !tokenAmount.IsPositive() {
		return fmt.Errorf("%w: token amount must be positive", domain.ErrInvalidAmount)
	}

	grossUsd := domain.Floor18(tokenAmount.Mul(price))
	fee := domain.BpsFee(grossUsd, a.Config.Token.RedeemFeeBps)
	net := grossUsd.Sub(fee)

	fmt.Fprintf(os.Stdout, "Tokens in:    %s\n", tokenAmount.String())
	fmt.Fprintf(os.Stdout, "Gold price:   %s USD/oz\n", price.String())
	fmt.Fprintf(os.Stdout, "Gross USD:    %s\n", grossUsd.String())
	fmt.Fprintf(os.Stdout, "Redeem fee:   %s (%d bps)\n", fee.String(), a.Config.Token.RedeemFeeBps)
	fmt.Fprintf(os.Stdout, "Net USD out:  %s\n", net.String())
	return nil
}
