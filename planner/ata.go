package planner

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// createIdempotent is the associated token account program's instruction
// that succeeds whether or not the account exists.
const createIdempotent = 1

func associatedTokenAddress(wallet, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account for %s: %w", mint, err)
	}
	return ata, nil
}

func createAssociatedTokenAccountIdempotent(payer, wallet, mint, ata solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(ata, true, false),
			solana.NewAccountMeta(wallet, false, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
		[]byte{createIdempotent},
	)
}
