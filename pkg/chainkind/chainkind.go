// Package chainkind enumerates the chain families the core pipeline can be
// parameterized over. Ingestion is chain-generic; only the adapter that
// normalizes provider responses into records differs per kind.
package chainkind

// Kind is a sealed tag distinguishing supported chain families.
type Kind string

const (
	// Evm selects an EVM-family chain (go-ethereum RPC shape).
	Evm Kind = "evm"
	// Starknet selects a Starknet chain (sequencer gateway / JSON-RPC shape).
	Starknet Kind = "starknet"
)

// IsValid reports whether k is one of the known chain kinds.
func (k Kind) IsValid() bool {
	switch k {
	case Evm, Starknet:
		return true
	default:
		return false
	}
}

func (k Kind) String() string {
	return string(k)
}
