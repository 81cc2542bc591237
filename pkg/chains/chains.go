// Package chains names the Solana clusters the router can run against.
package chains

import (
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"
)

// Cluster is a Solana network.
type Cluster string

const (
	MainnetBeta Cluster = "mainnet-beta"
	Devnet      Cluster = "devnet"
	Testnet     Cluster = "testnet"
	Localnet    Cluster = "localnet"
)

// RPCEndpoint returns the public JSON-RPC endpoint of the cluster.
func (c Cluster) RPCEndpoint() (string, error) {
	switch c {
	case MainnetBeta:
		return rpc.MainNetBeta.RPC, nil
	case Devnet:
		return rpc.DevNet.RPC, nil
	case Testnet:
		return rpc.TestNet.RPC, nil
	case Localnet:
		return rpc.LocalNet.RPC, nil
	default:
		return "", fmt.Errorf("unknown cluster %q", string(c))
	}
}
