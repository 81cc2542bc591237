package dex

import (
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeID(t *testing.T) {
	pool := solana.MustPublicKeyFromBase58("58oQChx4yWmvKdwLLZzBi4ChoCc2fqCUWBkwMihLYQo2")
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	id := EdgeID{Key: pool, InputMint: usdc}

	t.Run("String_KeyThenMint", func(t *testing.T) {
		assert.Equal(t, pool.String()+"/"+usdc.String(), id.String())
	})

	t.Run("Parse_RoundTrip", func(t *testing.T) {
		parsed, err := ParseEdgeID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})

	t.Run("Parse_RejectsMalformed", func(t *testing.T) {
		_, err := ParseEdgeID(pool.String())
		assert.Error(t, err, "missing separator")

		_, err = ParseEdgeID("not-base58!/" + usdc.String())
		assert.Error(t, err, "bad key")

		_, err = ParseEdgeID(pool.String() + "/")
		assert.Error(t, err, "empty mint")
	})

	t.Run("JSON_Marshaling_RoundTrip", func(t *testing.T) {
		raw, err := json.Marshal(id)
		require.NoError(t, err)
		assert.Equal(t, `"`+id.String()+`"`, string(raw))

		var decoded EdgeID
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, id, decoded)
	})

	t.Run("UsableAsMapKey", func(t *testing.T) {
		reverse := EdgeID{Key: pool, InputMint: solana.SolMint}
		m := map[EdgeID]int{id: 1, reverse: 2}
		assert.Len(t, m, 2, "both directions of one pool are distinct edges")
		assert.Equal(t, 1, m[EdgeID{Key: pool, InputMint: usdc}])
	})

	t.Run("Less_IsStrictOrder", func(t *testing.T) {
		var lo, hi solana.PublicKey
		hi[0] = 1
		a := EdgeID{Key: lo, InputMint: hi}
		b := EdgeID{Key: hi, InputMint: lo}

		assert.True(t, a.Less(b))
		assert.False(t, b.Less(a))
		assert.False(t, a.Less(a))
	})

	t.Run("IsZero", func(t *testing.T) {
		assert.True(t, EdgeID{}.IsZero())
		assert.False(t, id.IsZero())
	})
}
