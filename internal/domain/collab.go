package domain

import "context"

// Exchange is the swap counterparty (the Arcane DEX program behind a
// relayer). Submission must tolerate at-least-once delivery: the idempotency
// key lets the relayer recognise and discard duplicates.
type Exchange interface {
	// Quote returns the output amount currently obtainable for the given
	// conversion. Quotes are all-or-nothing; partial fills are not modelled.
	Quote(ctx context.Context, inputToken, outputToken, inputAmount uint64) (uint64, error)
	// SubmitSwap submits the instruction under the given idempotency key and
	// returns the achieved output amount.
	SubmitSwap(ctx context.Context, key string, instr SwapInstruction) (uint64, error)
}

// ChainObserver supplies the current ledger height. Heights only ever grow
// but may arrive with gaps; nothing here assumes consecutive values.
type ChainObserver interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}
