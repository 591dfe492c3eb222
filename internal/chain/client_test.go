package chain

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/gaugeworks/voteproofs/internal/config"
)

type callArgs struct {
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// ethService backs an in-process JSON-RPC server: a call whose first data
// byte is 0xff reverts, everything else echoes its data back.
type ethService struct{}

func (s *ethService) Call(_ context.Context, args callArgs, _ string) (hexutil.Bytes, error) {
	if len(args.Data) > 0 && args.Data[0] == 0xff {
		return nil, errors.New("execution reverted")
	}
	return args.Data, nil
}

func newInprocClient(t *testing.T) *Client {
	t.Helper()
	srv := rpc.NewServer()
	if err := srv.RegisterName("eth", new(ethService)); err != nil {
		t.Fatal(err)
	}
	rc := rpc.DialInProc(srv)
	t.Cleanup(func() {
		rc.Close()
		srv.Stop()
	})
	return NewClient(rc, config.Default(), nil)
}

func TestBatchCallAtItemIndependence(t *testing.T) {
	c := newInprocClient(t)
	calls := []Call{
		{To: common.HexToAddress("0x01"), Data: []byte{0x01}},
		{To: common.HexToAddress("0x02"), Data: []byte{0xff}}, // reverts
		{To: common.HexToAddress("0x03"), Data: []byte{0x03}},
	}
	results, err := c.BatchCallAt(context.Background(), calls, 18_500_000)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(calls) {
		t.Fatalf("got %d results for %d calls", len(results), len(calls))
	}
	if results[0].Err != nil || !bytes.Equal(results[0].Data, []byte{0x01}) {
		t.Errorf("item 0: %v %x", results[0].Err, results[0].Data)
	}
	if results[1].Err == nil {
		t.Error("reverting item must carry its own error")
	}
	if results[2].Err != nil || !bytes.Equal(results[2].Data, []byte{0x03}) {
		t.Errorf("failing neighbor leaked into item 2: %v %x", results[2].Err, results[2].Data)
	}
}

func TestBatchCallAtEmpty(t *testing.T) {
	c := newInprocClient(t)
	results, err := c.BatchCallAt(context.Background(), nil, 0)
	if err != nil || results != nil {
		t.Errorf("empty batch: got (%v, %v)", results, err)
	}
}

func TestCallAtRevertPropagates(t *testing.T) {
	c := newInprocClient(t)
	_, err := c.CallAt(context.Background(), common.HexToAddress("0x01"), []byte{0xff}, 0)
	if err == nil || !IsRevert(err) {
		t.Fatalf("expected a revert classification, got %v", err)
	}
	out, err := c.CallAt(context.Background(), common.HexToAddress("0x01"), []byte{0x05}, 0)
	if err != nil || !bytes.Equal(out, []byte{0x05}) {
		t.Fatalf("echo call: got (%x, %v)", out, err)
	}
}
