// SPDX-License-Identifier: MIT

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBagTolerantAccessors(t *testing.T) {
	b := Bag{
		"s_num":  float64(42), // JSON numbers decode as float64
		"b_str":  "true",
		"f_str":  "7.5",
		"id_str": "9",
		"ids":    []any{float64(1), "2", float64(3)},
	}
	assert.Equal(t, "42", b.String("s_num"))
	assert.True(t, b.Bool("b_str"))
	assert.Equal(t, 7.5, b.Float("f_str", 0))
	require.NotNil(t, b.Int64Ptr("id_str"))
	assert.Equal(t, int64(9), *b.Int64Ptr("id_str"))
	assert.Equal(t, []int64{1, 2, 3}, b.Int64Slice("ids"))

	assert.Equal(t, "", b.String("missing"))
	assert.False(t, b.Bool("missing"))
	assert.Equal(t, 1.5, b.Float("missing", 1.5))
	assert.Nil(t, b.Int64Ptr("missing"))
}

func TestSyncOptionsFromBag(t *testing.T) {
	opts := SyncOptionsFromBag(Bag{
		AutoChannelSyncKey:      true,
		AutoSyncChannelStartKey: float64(100),
		ChannelSortOrderKey:     "name",
		ChannelSortReverseKey:   "true",
		ChannelProfileIDsKey:    []any{float64(4), float64(5)},
	})
	assert.True(t, opts.AutoChannelSync)
	assert.Equal(t, 100.0, opts.StartNumber)
	assert.Equal(t, SortName, opts.SortOrder)
	assert.True(t, opts.SortReverse)
	assert.Equal(t, []int64{4, 5}, opts.ChannelProfileIDs)

	// Defaults: start at 1, provider order.
	opts = SyncOptionsFromBag(Bag{})
	assert.Equal(t, 1.0, opts.StartNumber)
	assert.Equal(t, SortProvider, opts.SortOrder)
}

func TestBagMergePreservesReceiver(t *testing.T) {
	base := Bag{"user_note": "keep", XCIDKey: "old"}
	merged := base.Merge(Bag{XCIDKey: "new"})
	assert.Equal(t, "keep", merged["user_note"])
	assert.Equal(t, "new", merged[XCIDKey])
	assert.Equal(t, "old", base[XCIDKey])
}
