package dex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// EdgeID is the primary key of a directed edge: the venue account that
// identifies the pool plus the mint the edge consumes.
//
// A single pool produces one EdgeID per tradable direction, so (pool, USDC)
// and (pool, SOL) are distinct edges even though they share Key.
type EdgeID struct {
	Key       solana.PublicKey
	InputMint solana.PublicKey
}

// ID derives the EdgeID of an identifier.
func ID(ident EdgeIdentifier) EdgeID {
	return EdgeID{Key: ident.Key(), InputMint: ident.InputMint()}
}

// String renders the id as "<key>/<input mint>" in base58.
func (id EdgeID) String() string {
	return id.Key.String() + "/" + id.InputMint.String()
}

// IsZero reports whether both halves of the id are unset.
func (id EdgeID) IsZero() bool {
	return id.Key.IsZero() && id.InputMint.IsZero()
}

// Compare orders ids by key then input mint, byte-wise.
func (id EdgeID) Compare(other EdgeID) int {
	if c := bytes.Compare(id.Key[:], other.Key[:]); c != 0 {
		return c
	}
	return bytes.Compare(id.InputMint[:], other.InputMint[:])
}

// Less reports whether id sorts before other.
func (id EdgeID) Less(other EdgeID) bool {
	return id.Compare(other) < 0
}

// MarshalJSON serializes the id in its string form.
func (id EdgeID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the "<key>/<input mint>" form.
func (id *EdgeID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseEdgeID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEdgeID is the inverse of EdgeID.String.
func ParseEdgeID(s string) (EdgeID, error) {
	keyPart, mintPart, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return EdgeID{}, errors.New("edge id must have the form <key>/<input mint>")
	}
	key, err := solana.PublicKeyFromBase58(keyPart)
	if err != nil {
		return EdgeID{}, fmt.Errorf("edge id key: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(mintPart)
	if err != nil {
		return EdgeID{}, fmt.Errorf("edge id input mint: %w", err)
	}
	return EdgeID{Key: key, InputMint: mint}, nil
}
