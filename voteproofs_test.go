package voteproofs

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"

	"github.com/gaugeworks/voteproofs/internal/chain"
	"github.com/gaugeworks/voteproofs/internal/config"
	"github.com/gaugeworks/voteproofs/internal/proofenc"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/internal/slots"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

var (
	testGauge = common.HexToAddress("0xb78543e00712C3ABBA10D0852f6E38FDE2AaBA4d")
	testUser  = common.HexToAddress("0x52f541764E6e90eeBc5c21Ff570De0e2D63766B6")
)

type mockReader struct {
	mu         sync.Mutex
	proofCalls int
	lastSlots  []common.Hash
	proof      *types.RawProof
	proofErr   error

	headerCalls int
	header      *gethtypes.Header

	callCalls  int
	batchCalls int
	callFn     func(to common.Address, data []byte) ([]byte, error)
}

func (m *mockReader) HeaderByNumber(context.Context, uint64) (*gethtypes.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerCalls++
	if m.header == nil {
		return nil, errors.New("no header scripted")
	}
	return m.header, nil
}

func (m *mockReader) GetProof(_ context.Context, _ common.Address, slotKeys []common.Hash, _ uint64) (*types.RawProof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofCalls++
	m.lastSlots = slotKeys
	if m.proofErr != nil {
		return nil, m.proofErr
	}
	return m.proof, nil
}

func (m *mockReader) CallAt(_ context.Context, to common.Address, data []byte, _ uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCalls++
	if m.callFn == nil {
		return nil, errors.New("no call scripted")
	}
	return m.callFn(to, data)
}

func (m *mockReader) BatchCallAt(_ context.Context, calls []chain.Call, _ uint64) ([]chain.CallResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.callFn == nil {
		return nil, errors.New("no call scripted")
	}
	results := make([]chain.CallResult, len(calls))
	for i, call := range calls {
		data, err := m.callFn(call.To, call.Data)
		results[i] = chain.CallResult{Data: data, Err: err}
	}
	return results, nil
}

func (m *mockReader) FilterLogs(context.Context, ethereum.FilterQuery) ([]gethtypes.Log, error) {
	return nil, nil
}

// rlpNode builds a hex-encoded trie node: an RLP list of the given payloads.
func rlpNode(t *testing.T, payloads ...[]byte) string {
	t.Helper()
	b, err := rlp.EncodeToBytes(payloads)
	if err != nil {
		t.Fatal(err)
	}
	return "0x" + common.Bytes2Hex(b)
}

func fixtureProof(t *testing.T, slotKeys []common.Hash) *types.RawProof {
	t.Helper()
	proof := &types.RawProof{
		AccountProof: []string{
			rlpNode(t, []byte{0x01}, []byte{0x02}),
			rlpNode(t, []byte{0x03}),
		},
	}
	for _, k := range slotKeys {
		proof.StorageProof = append(proof.StorageProof, types.StorageBranch{
			Key:   k.Hex(),
			Value: "0x2a",
			Proof: []string{rlpNode(t, k.Bytes())},
		})
	}
	return proof
}

func newTestEngine(t *testing.T, reader Reader) *Engine {
	t.Helper()
	eng, err := New(config.Default(), WithReader(reader))
	if err != nil {
		t.Fatal(err)
	}
	return eng
}

func TestGetGaugeProofDerivesFlooredSlot(t *testing.T) {
	layout, err := registry.LayoutFor(types.ProtocolBalancer)
	if err != nil {
		t.Fatal(err)
	}
	// 1699920000 floors to 1699488000 before slot derivation
	want := slots.GaugeWeightSlot(layout.SlotRule, layout.PointWeightsSlot, testGauge, 1_699_488_000)
	reader := &mockReader{proof: fixtureProof(t, []common.Hash{want})}
	eng := newTestEngine(t, reader)

	proof, err := eng.GetGaugeProof(context.Background(), types.ProtocolBalancer, testGauge, 1_699_920_000, 18_500_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(reader.lastSlots) != 1 || reader.lastSlots[0] != want {
		t.Errorf("requested slot %v, want %v", reader.lastSlots, want)
	}
	nodes, err := proofenc.DecodeAccountBlob(proof.AccountProof)
	if err != nil {
		t.Fatalf("account blob does not decode: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("account branch re-framed to %d nodes", len(nodes))
	}
	branches, err := proofenc.DecodeStorageBlob(proof.StorageProof)
	if err != nil {
		t.Fatalf("storage blob does not decode: %v", err)
	}
	if len(branches) != 1 {
		t.Errorf("storage blob holds %d branches", len(branches))
	}
}

func TestGetGaugeProofCachesByRequest(t *testing.T) {
	reader := &mockReader{proof: fixtureProof(t, []common.Hash{{0x01}})}
	eng := newTestEngine(t, reader)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.GetGaugeProof(ctx, types.ProtocolCurve, testGauge, 1_699_488_000, 18_500_000); err != nil {
			t.Fatal(err)
		}
	}
	if reader.proofCalls != 1 {
		t.Errorf("identical requests hit the node %d times", reader.proofCalls)
	}
	// different block is a different request
	if _, err := eng.GetGaugeProof(ctx, types.ProtocolCurve, testGauge, 1_699_488_000, 18_500_001); err != nil {
		t.Fatal(err)
	}
	if reader.proofCalls != 2 {
		t.Errorf("distinct block must refetch, got %d calls", reader.proofCalls)
	}
}

func TestGetGaugeProofUnknownProtocol(t *testing.T) {
	eng := newTestEngine(t, &mockReader{})
	_, err := eng.GetGaugeProof(context.Background(), types.Protocol("nope"), testGauge, 0, 0)
	if types.CodeOf(err) != types.ErrCodeUnknownProtocol {
		t.Fatalf("expected unknown_protocol, got %v", err)
	}
}

func TestGetGaugeProofZeroGauge(t *testing.T) {
	eng := newTestEngine(t, &mockReader{})
	_, err := eng.GetGaugeProof(context.Background(), types.ProtocolCurve, common.Address{}, 0, 0)
	if types.CodeOf(err) != types.ErrCodeBadInput {
		t.Fatalf("expected bad_input, got %v", err)
	}
}

func TestGetUserProofRequestsAccountingSlots(t *testing.T) {
	layout, err := registry.LayoutFor(types.ProtocolBalancer)
	if err != nil {
		t.Fatal(err)
	}
	want := slots.UserSlots(layout, testUser, testGauge)
	reader := &mockReader{proof: fixtureProof(t, want)}
	eng := newTestEngine(t, reader)

	if _, err := eng.GetUserProof(context.Background(), types.ProtocolBalancer, testGauge, testUser, 18_500_000); err != nil {
		t.Fatal(err)
	}
	if len(reader.lastSlots) != len(want) {
		t.Fatalf("requested %d slots, want %d", len(reader.lastSlots), len(want))
	}
	for i := range want {
		if reader.lastSlots[i] != want[i] {
			t.Errorf("slot %d = %v, want %v", i, reader.lastSlots[i], want[i])
		}
	}
}

func TestGetUserProofPropagatesProofUnavailable(t *testing.T) {
	reader := &mockReader{proofErr: types.NewError("chain", types.ErrCodeProofUnavailable,
		"node cannot produce a proof for this block", nil)}
	eng := newTestEngine(t, reader)

	_, err := eng.GetUserProof(context.Background(), types.ProtocolCurve, testGauge, testUser, 10)
	if types.CodeOf(err) != types.ErrCodeProofUnavailable {
		t.Fatalf("expected proof_unavailable, got %v", err)
	}
	var de *types.Error
	if !errors.As(err, &de) || de.Context.User != testUser {
		t.Errorf("error lost its user context: %v", err)
	}
}

func TestGetBlockInfoHeaderRLP(t *testing.T) {
	header := &gethtypes.Header{
		ParentHash: common.HexToHash("0x01"),
		Number:     big.NewInt(18_500_000),
		Difficulty: new(big.Int),
		Time:       1_699_500_000,
		GasLimit:   30_000_000,
		BaseFee:    big.NewInt(7),
	}
	reader := &mockReader{header: header}
	eng := newTestEngine(t, reader)

	info, err := eng.GetBlockInfo(context.Background(), 18_500_000)
	if err != nil {
		t.Fatal(err)
	}
	if info.Number != 18_500_000 || info.Timestamp != header.Time {
		t.Errorf("block identity mismatch: %+v", info)
	}
	if info.Hash != header.Hash() {
		t.Errorf("hash %v, want %v", info.Hash, header.Hash())
	}
	// the verifier recomputes the hash from the RLP header
	h := sha3.NewLegacyKeccak256()
	h.Write(info.RLPHeader)
	if !bytes.Equal(h.Sum(nil), info.Hash.Bytes()) {
		t.Error("keccak of RLP header does not match the block hash")
	}

	if _, err := eng.GetBlockInfo(context.Background(), 18_500_000); err != nil {
		t.Fatal(err)
	}
	if reader.headerCalls != 1 {
		t.Errorf("cached block info refetched, %d header calls", reader.headerCalls)
	}
}

type countingIndex struct{ calls int }

func (c *countingIndex) UsersWhoVoted(context.Context, registry.Layout, common.Address, uint64) ([]common.Address, error) {
	c.calls++
	return nil, nil
}

func TestGetEligibleUsersIdempotent(t *testing.T) {
	idx := &countingIndex{}
	eng, err := New(config.Default(), WithReader(&mockReader{}), WithVoteIndex(idx))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := eng.GetEligibleUsers(ctx, types.ProtocolBalancer, testGauge, 1_699_488_000, 18_500_000)
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Users) != 0 || len(res.Failures) != 0 {
			t.Fatalf("expected empty result, got %+v", res)
		}
	}
	if idx.calls != 1 {
		t.Errorf("identical eligibility requests recomputed, %d index scans", idx.calls)
	}
	// a different epoch (different floored week) recomputes
	if _, err := eng.GetEligibleUsers(ctx, types.ProtocolBalancer, testGauge, 1_699_488_000+types.Week, 18_500_000); err != nil {
		t.Fatal(err)
	}
	if idx.calls != 2 {
		t.Errorf("distinct epoch must recompute, %d index scans", idx.calls)
	}
}

func TestIsValidGaugeProbe(t *testing.T) {
	gaugeTypesID := validationABI.Methods["gauge_types"].ID

	t.Run("registered", func(t *testing.T) {
		reader := &mockReader{callFn: func(to common.Address, data []byte) ([]byte, error) {
			if !bytes.Equal(data[:4], gaugeTypesID) {
				return nil, errors.New("unexpected selector")
			}
			return common.LeftPadBytes([]byte{0x01}, 32), nil
		}}
		eng := newTestEngine(t, reader)
		ok, err := eng.IsValidGauge(context.Background(), types.ProtocolCurve, testGauge)
		if err != nil || !ok {
			t.Fatalf("got (%v, %v), want (true, nil)", ok, err)
		}
		// positive answers stay cached
		if _, err := eng.IsValidGauge(context.Background(), types.ProtocolCurve, testGauge); err != nil {
			t.Fatal(err)
		}
		if reader.callCalls != 1 {
			t.Errorf("cached validation re-probed, %d calls", reader.callCalls)
		}
	})

	t.Run("unregistered reverts", func(t *testing.T) {
		reader := &mockReader{callFn: func(common.Address, []byte) ([]byte, error) {
			return nil, errors.New("execution reverted")
		}}
		eng := newTestEngine(t, reader)
		ok, err := eng.IsValidGauge(context.Background(), types.ProtocolCurve, testGauge)
		if err != nil {
			t.Fatalf("a revert is a clean no, got %v", err)
		}
		if ok {
			t.Error("reverting probe must not validate")
		}
	})

	t.Run("transport failure is fail-closed", func(t *testing.T) {
		reader := &mockReader{callFn: func(common.Address, []byte) ([]byte, error) {
			return nil, errors.New("connection refused")
		}}
		eng := newTestEngine(t, reader)
		ok, err := eng.IsValidGauge(context.Background(), types.ProtocolCurve, testGauge)
		if err == nil {
			t.Fatal("transport failure must surface an error")
		}
		if ok {
			t.Error("transport failure must never validate")
		}
	})
}

func TestIsValidGaugePendleMembership(t *testing.T) {
	reader := &mockReader{callFn: func(to common.Address, data []byte) ([]byte, error) {
		return validationABI.Methods["getAllActivePools"].Outputs.Pack(
			[]common.Address{testGauge})
	}}
	eng := newTestEngine(t, reader)
	ctx := context.Background()

	ok, err := eng.IsValidGauge(ctx, types.ProtocolPendle, testGauge)
	if err != nil || !ok {
		t.Fatalf("member pool: got (%v, %v)", ok, err)
	}
	ok, err = eng.IsValidGauge(ctx, types.ProtocolPendle, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("non-member address validated")
	}
}

func TestIsValidGaugeEnumeration(t *testing.T) {
	nGaugesID := validationABI.Methods["n_gauges"].ID
	gaugesID := validationABI.Methods["gauges"].ID
	other := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	reader := &mockReader{callFn: func(to common.Address, data []byte) ([]byte, error) {
		switch {
		case bytes.Equal(data[:4], nGaugesID):
			return common.LeftPadBytes([]byte{0x02}, 32), nil
		case bytes.Equal(data[:4], gaugesID):
			idx := new(big.Int).SetBytes(data[4:36])
			if idx.Uint64() == 0 {
				return common.LeftPadBytes(testGauge.Bytes(), 32), nil
			}
			return common.LeftPadBytes(other.Bytes(), 32), nil
		}
		return nil, errors.New("unexpected selector")
	}}
	eng := newTestEngine(t, reader)
	ctx := context.Background()

	ok, err := eng.IsValidGauge(ctx, types.ProtocolYB, testGauge)
	if err != nil || !ok {
		t.Fatalf("enumerated gauge: got (%v, %v)", ok, err)
	}
	if reader.batchCalls != 1 {
		t.Errorf("registry walk used %d batches, want 1", reader.batchCalls)
	}
	ok, err = eng.IsValidGauge(ctx, types.ProtocolYB, testUser)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("address outside the registry validated")
	}
}
