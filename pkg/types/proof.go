package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// StorageBranch is one slot's Merkle-Patricia branch from eth_getProof.
type StorageBranch struct {
	Key   string   `json:"key"`
	Value string   `json:"value"`
	Proof []string `json:"proof"`
}

// RawProof is the untouched eth_getProof response: one account branch plus
// one storage branch per requested slot, all hex-encoded trie nodes. It is
// consumed immediately by the proof encoder and never retained.
type RawProof struct {
	Address      common.Address  `json:"address"`
	AccountProof []string        `json:"accountProof"`
	Balance      string          `json:"balance"`
	CodeHash     string          `json:"codeHash"`
	Nonce        string          `json:"nonce"`
	StorageHash  string          `json:"storageHash"`
	StorageProof []StorageBranch `json:"storageProof"`
}

// EncodedProof is the byte format the on-chain verifier consumes: the account
// branch re-framed as one flat RLP list of decoded nodes, and the storage
// branches as an RLP list of per-slot node lists.
type EncodedProof struct {
	AccountProof hexutil.Bytes `json:"account_proof"`
	StorageProof hexutil.Bytes `json:"storage_proof"`
}

// BlockInfo carries what the oracle submission flow needs about a block:
// its identity plus the RLP-encoded header the verifier hashes.
type BlockInfo struct {
	Number    uint64        `json:"block_number"`
	Hash      common.Hash   `json:"block_hash"`
	Timestamp uint64        `json:"block_timestamp"`
	RLPHeader hexutil.Bytes `json:"rlp_block_header"`
}
