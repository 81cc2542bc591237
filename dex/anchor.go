package dex

import "crypto/sha256"

// Discriminator is the 8-byte prefix Anchor programs put in front of account
// data and instruction data.
type Discriminator [8]byte

// InstructionDiscriminator returns the prefix of the Anchor instruction name.
func InstructionDiscriminator(name string) Discriminator {
	return anchorHash("global:" + name)
}

// AccountDiscriminator returns the prefix of the Anchor account type name.
func AccountDiscriminator(name string) Discriminator {
	return anchorHash("account:" + name)
}

func anchorHash(preimage string) Discriminator {
	sum := sha256.Sum256([]byte(preimage))
	var d Discriminator
	copy(d[:], sum[:8])
	return d
}
