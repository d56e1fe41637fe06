package main

import (
	"fmt"

	"limitbook/internal/config"
	"limitbook/internal/engine"
	"limitbook/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"
)

// genesis deploys the configured tokens, funds the genesis accounts and
// registers the configured books.
func genesis(cfg config.Config, ledger *token.Ledger, eng *engine.Engine) error {
	tokens := make(map[string]*token.ERC20, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		name := tc.Name
		if name == "" {
			name = tc.Symbol
		}
		tok := ledger.Deploy(name, tc.Symbol, eng.Address())
		if tc.FeeBasisPoints > 0 {
			var maxFee *uint256.Int
			if tc.MaxFee != "" {
				v, err := uint256.FromDecimal(tc.MaxFee)
				if err != nil {
					return fmt.Errorf("token %s max fee: %w", tc.Symbol, err)
				}
				maxFee = v
			}
			tok.SetFee(tc.FeeBasisPoints, maxFee)
		}
		tokens[tc.Symbol] = tok
		log.Info().
			Str("symbol", tc.Symbol).
			Str("address", tok.Address().Hex()).
			Uint64("feeBps", tc.FeeBasisPoints).
			Msg("token deployed")
	}

	for _, a := range cfg.Genesis {
		amount, err := uint256.FromDecimal(a.Amount)
		if err != nil {
			return fmt.Errorf("genesis amount %q: %w", a.Amount, err)
		}
		tok := tokens[a.Token]
		account := common.HexToAddress(a.Account)
		if err := tok.Mint(account, amount); err != nil {
			return fmt.Errorf("genesis allocation for %s: %w", account.Hex(), err)
		}
		if a.Approve {
			tok.Approve(account, eng.Address(), new(uint256.Int).SetAllOne())
		}
		log.Info().
			Str("account", account.Hex()).
			Str("token", a.Token).
			Str("amount", amount.Dec()).
			Msg("genesis allocation")
	}
	ledger.Finalise()

	for _, bc := range cfg.Books {
		if _, err := eng.CreateOrderBook(tokens[bc.Token0], tokens[bc.Token1], bc.LogSizeTick, bc.LogPriceTick); err != nil {
			return fmt.Errorf("book %s/%s: %w", bc.Token0, bc.Token1, err)
		}
	}
	return nil
}
