// SPDX-License-Identifier: MIT

package channels

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/fluxtv/ingestd/internal/domain"
)

// sortStreams orders the group's streams per the membership's sort options.
// Name order is natural: digit runs compare as numbers, so "Ch 2" sorts
// before "Ch 10". Provider order is upstream insertion order (stream id).
func sortStreams(streams []domain.Stream, order domain.SortOrder, reverse bool) {
	switch order {
	case domain.SortName:
		coll := collate.New(language.Und, collate.Numeric)
		sort.SliceStable(streams, func(i, j int) bool {
			return coll.CompareString(streams[i].Name, streams[j].Name) < 0
		})
	case domain.SortTvgID:
		sort.SliceStable(streams, func(i, j int) bool {
			return streams[i].TvgID < streams[j].TvgID
		})
	case domain.SortUpdatedAt:
		sort.SliceStable(streams, func(i, j int) bool {
			return streams[i].UpdatedAt.Before(streams[j].UpdatedAt)
		})
	default: // provider
		sort.SliceStable(streams, func(i, j int) bool {
			return streams[i].ID < streams[j].ID
		})
	}
	if reverse {
		for i, j := 0, len(streams)-1; i < j; i, j = i+1, j-1 {
			streams[i], streams[j] = streams[j], streams[i]
		}
	}
}
