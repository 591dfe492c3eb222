// Package votes answers "who has ever voted for this gauge": the historical
// voter set the eligibility engine starts from. The controller's Vote events
// are scanned from its creation block in fixed windows; swap in a prebuilt
// index by implementing Index.
package votes

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gaugeworks/voteproofs/internal/logging"
	"github.com/gaugeworks/voteproofs/internal/registry"
	"github.com/gaugeworks/voteproofs/internal/util"
	"github.com/gaugeworks/voteproofs/pkg/types"
)

// Index is the vote-log collaborator: the set of addresses that voted for a
// gauge up to a block.
type Index interface {
	UsersWhoVoted(ctx context.Context, layout registry.Layout, gauge common.Address, upToBlock uint64) ([]common.Address, error)
}

// LogFetcher is the slice of the chain client this package needs.
type LogFetcher interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// LogIndex scans controller Vote events over JSON-RPC.
type LogIndex struct {
	fetcher   LogFetcher
	chunkSize uint64
	workers   int
}

// NewLogIndex builds a LogIndex. chunkSize is the block span per eth_getLogs
// request; workers bounds concurrent requests.
func NewLogIndex(fetcher LogFetcher, chunkSize uint64, workers int) *LogIndex {
	if chunkSize == 0 {
		chunkSize = 100_000
	}
	if workers < 1 {
		workers = 1
	}
	return &LogIndex{fetcher: fetcher, chunkSize: chunkSize, workers: workers}
}

// UsersWhoVoted returns every unique address that voted for gauge between the
// controller's creation block and upToBlock.
func (li *LogIndex) UsersWhoVoted(ctx context.Context, layout registry.Layout, gauge common.Address, upToBlock uint64) ([]common.Address, error) {
	if upToBlock < layout.CreationBlock {
		return nil, types.NewError("votes", types.ErrCodeDataUnavailable,
			"no vote history at or before this block", nil).
			WithProtocol(layout.Protocol).WithGauge(gauge).WithBlock(upToBlock)
	}

	type window struct{ from, to uint64 }
	var windows []window
	for from := layout.CreationBlock; from <= upToBlock; from += li.chunkSize {
		to := from + li.chunkSize - 1
		if to > upToBlock {
			to = upToBlock
		}
		windows = append(windows, window{from, to})
	}

	var (
		mu       sync.Mutex
		users    = make(map[common.Address]struct{})
		firstErr error
		dropped  int
	)
	sem := make(chan struct{}, li.workers)
	var wg sync.WaitGroup
	for _, w := range windows {
		wg.Add(1)
		sem <- struct{}{}
		w := w
		util.SafeGo("votes.chunk", func() {
			defer wg.Done()
			defer func() { <-sem }()
			logs, err := li.fetcher.FilterLogs(ctx, ethereum.FilterQuery{
				FromBlock: new(big.Int).SetUint64(w.from),
				ToBlock:   new(big.Int).SetUint64(w.to),
				Addresses: []common.Address{layout.Controller},
				Topics:    [][]common.Hash{{layout.VoteTopic}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("logs %d-%d: %w", w.from, w.to, err)
				}
				return
			}
			for _, lg := range logs {
				voter, votedGauge, err := decodeVote(layout, lg)
				if err != nil {
					// a malformed log is a node anomaly, not a reason to
					// abort the scan; count it and keep the rest
					dropped++
					continue
				}
				if votedGauge == gauge {
					users[voter] = struct{}{}
				}
			}
		})
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if dropped > 0 {
		logging.Warn("dropped undecodable vote logs",
			"protocol", string(layout.Protocol), "count", dropped)
	}

	out := make([]common.Address, 0, len(users))
	for u := range users {
		out = append(out, u)
	}
	// deterministic order keeps batches and results reproducible
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out, nil
}

// decodeVote extracts (voter, gauge) from a Vote event. Standard controllers
// emit everything unindexed in data: time ‖ voter ‖ gauge ‖ weight, addresses
// right-aligned in their words. Pendle indexes voter and pool as topics.
func decodeVote(layout registry.Layout, lg gethtypes.Log) (common.Address, common.Address, error) {
	if layout.DecodeShape == registry.ShapePendle {
		if len(lg.Topics) < 3 {
			return common.Address{}, common.Address{}, fmt.Errorf("pendle vote log with %d topics", len(lg.Topics))
		}
		return common.BytesToAddress(lg.Topics[1].Bytes()), common.BytesToAddress(lg.Topics[2].Bytes()), nil
	}
	if len(lg.Data) < 128 {
		return common.Address{}, common.Address{}, fmt.Errorf("vote log data %d bytes", len(lg.Data))
	}
	voter := common.BytesToAddress(lg.Data[44:64])
	gauge := common.BytesToAddress(lg.Data[76:96])
	return voter, gauge, nil
}
