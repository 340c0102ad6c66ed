package chain

import (
	"context"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
)

const fundingGasLimit = 21000

// FundingAmount is 0.01 ETH in wei.
var FundingAmount = milliEther(10)

// Funder tops up new wallets from the operator account.
type Funder struct {
	operator *Operator
}

// NewFunder wraps an operator.
func NewFunder(operator *Operator) *Funder {
	return &Funder{operator: operator}
}

// Fund submits the fixed funding transfer to address.
func (f *Funder) Fund(ctx context.Context, address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid address %q", address)
	}
	tx, err := f.operator.Send(ctx, common.HexToAddress(address), FundingAmount, fundingGasLimit, nil)
	if err != nil {
		return err
	}
	log.Printf("[chain] funding tx %s sent to %s", tx.Hash().Hex(), address)
	return nil
}
