package token

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountSize is the length of an SPL token account.
const AccountSize = 165

const (
	mintOffset   = 0
	ownerOffset  = 32
	amountOffset = 64
)

// AccountAmount reads the balance of an SPL token account.
func AccountAmount(data []byte) (uint64, error) {
	if len(data) < AccountSize {
		return 0, fmt.Errorf("token account: %d bytes, want %d", len(data), AccountSize)
	}
	return binary.LittleEndian.Uint64(data[amountOffset : amountOffset+8]), nil
}

// AccountMint reads the mint of an SPL token account.
func AccountMint(data []byte) (solana.PublicKey, error) {
	if len(data) < AccountSize {
		return solana.PublicKey{}, fmt.Errorf("token account: %d bytes, want %d", len(data), AccountSize)
	}
	return solana.PublicKeyFromBytes(data[mintOffset : mintOffset+32]), nil
}

// EncodeAccount builds the data of an initialized SPL token account holding
// amount of mint.
func EncodeAccount(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, AccountSize)
	copy(data[mintOffset:], mint[:])
	copy(data[ownerOffset:], owner[:])
	binary.LittleEndian.PutUint64(data[amountOffset:], amount)
	data[108] = 1 // initialized
	return data
}
