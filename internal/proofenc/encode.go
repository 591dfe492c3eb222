// Package proofenc re-frames eth_getProof branches into the byte format the
// on-chain verifier consumes. This is pure re-framing: node bytes are never
// transformed, only re-collected under new RLP list framing. Any nesting or
// ordering mistake makes the verifier's root-hash recomputation fail, which
// surfaces on chain as a revert rather than a clean "invalid".
package proofenc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/gaugeworks/voteproofs/pkg/types"
)

// Encode produces the verifier's two blobs from a raw proof:
// the account branch as one flat RLP list of nodes, and the storage branches
// as an RLP list holding one node list per requested slot.
func Encode(raw types.RawProof) (types.EncodedProof, error) {
	accountNodes, err := decodeBranch(raw.AccountProof)
	if err != nil {
		return types.EncodedProof{}, fmt.Errorf("account branch: %w", err)
	}
	accountBlob, err := rlp.EncodeToBytes(accountNodes)
	if err != nil {
		return types.EncodedProof{}, fmt.Errorf("encode account branch: %w", err)
	}

	storageNodes := make([][]rlp.RawValue, len(raw.StorageProof))
	for i, branch := range raw.StorageProof {
		nodes, err := decodeBranch(branch.Proof)
		if err != nil {
			return types.EncodedProof{}, fmt.Errorf("storage branch %d (key %s): %w", i, branch.Key, err)
		}
		storageNodes[i] = nodes
	}
	storageBlob, err := rlp.EncodeToBytes(storageNodes)
	if err != nil {
		return types.EncodedProof{}, fmt.Errorf("encode storage branches: %w", err)
	}

	return types.EncodedProof{
		AccountProof: accountBlob,
		StorageProof: storageBlob,
	}, nil
}

// decodeBranch turns hex trie nodes into their raw RLP form, verifying each
// is a syntactically complete RLP list. RawValue keeps the original bytes, so
// re-encoding the collection reproduces every node byte-for-byte.
func decodeBranch(hexNodes []string) ([]rlp.RawValue, error) {
	nodes := make([]rlp.RawValue, len(hexNodes))
	for i, h := range hexNodes {
		b, err := hexutil.Decode(h)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		var node rlp.RawValue
		if err := rlp.DecodeBytes(b, &node); err != nil {
			return nil, fmt.Errorf("node %d: malformed rlp: %w", i, err)
		}
		if len(node) == 0 || node[0] < 0xc0 {
			return nil, fmt.Errorf("node %d: not an rlp list", i)
		}
		nodes[i] = node
	}
	return nodes, nil
}

// DecodeAccountBlob splits an encoded account blob back into its trie nodes.
// Used by round-trip tests and debugging tooling.
func DecodeAccountBlob(blob []byte) ([]rlp.RawValue, error) {
	var nodes []rlp.RawValue
	if err := rlp.DecodeBytes(blob, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// DecodeStorageBlob splits an encoded storage blob back into per-slot node
// lists.
func DecodeStorageBlob(blob []byte) ([][]rlp.RawValue, error) {
	var branches [][]rlp.RawValue
	if err := rlp.DecodeBytes(blob, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}
