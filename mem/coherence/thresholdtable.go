package coherence

import (
	"github.com/google/btree"
)

type thresholdItem struct {
	blockNumber uint64
	threshold   int
}

func (i thresholdItem) Less(than btree.Item) bool {
	return i.blockNumber < than.(thresholdItem).blockNumber
}

// A ThresholdTable keeps one invalidate threshold per block in the shared
// window. Blocks that were never adjusted are not materialized, so the
// table stays compact even for large windows.
type ThresholdTable struct {
	initial int
	max     int
	tree    *btree.BTree
}

// NewThresholdTable creates a table where every block starts at the given
// initial threshold. Adjustments saturate at 0 and at max.
func NewThresholdTable(initial, max int) *ThresholdTable {
	if initial < 0 || max < initial {
		panic("threshold bounds must satisfy 0 <= initial <= max")
	}

	return &ThresholdTable{
		initial: initial,
		max:     max,
		tree:    btree.New(2),
	}
}

// Threshold returns the current threshold of a block.
func (t *ThresholdTable) Threshold(blockNumber uint64) int {
	item := t.tree.Get(thresholdItem{blockNumber: blockNumber})
	if item == nil {
		return t.initial
	}
	return item.(thresholdItem).threshold
}

// Raise increments the threshold of a block, saturating at the maximum.
func (t *ThresholdTable) Raise(blockNumber uint64) {
	v := t.Threshold(blockNumber)
	if v >= t.max {
		return
	}
	t.tree.ReplaceOrInsert(thresholdItem{blockNumber, v + 1})
}

// Lower decrements the threshold of a block, saturating at zero.
func (t *ThresholdTable) Lower(blockNumber uint64) {
	v := t.Threshold(blockNumber)
	if v <= 0 {
		return
	}
	t.tree.ReplaceOrInsert(thresholdItem{blockNumber, v - 1})
}
