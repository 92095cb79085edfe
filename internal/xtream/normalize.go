// SPDX-License-Identifier: MIT

package xtream

import (
	"github.com/fluxtv/ingestd/internal/domain"
	"github.com/fluxtv/ingestd/internal/m3u"
)

// URLBuilder maps a stream id to its playback URL.
type URLBuilder func(streamID string) string

// Normalize converts catalog records into the shared parsed-stream shape.
// Category names become group titles carrying the upstream xc_id; records in
// unknown categories land in the default group. All raw upstream fields are
// preserved as string attributes.
func Normalize(categories []Category, streams []LiveStream, urlFor URLBuilder) ([]m3u.ParsedStream, m3u.Groups) {
	byID := make(map[string]Category, len(categories))
	groups := m3u.Groups{domain.DefaultGroupName: {}}
	for _, c := range categories {
		if c.Name == "" {
			continue
		}
		byID[c.ID] = c
		groups[c.Name] = m3u.GroupInfo{XCID: c.ID}
	}

	out := make([]m3u.ParsedStream, 0, len(streams))
	for _, st := range streams {
		attrs := make(map[string]string, len(st.Raw)+4)
		for k, v := range st.Raw {
			attrs[k] = v
		}
		groupTitle := domain.DefaultGroupName
		if cat, ok := byID[st.CategoryID]; ok {
			groupTitle = cat.Name
		}
		attrs["group-title"] = groupTitle
		if st.EPGChannelID != "" {
			attrs["tvg-id"] = st.EPGChannelID
		}
		if st.StreamIcon != "" {
			attrs["tvg-logo"] = st.StreamIcon
		}
		attrs["tvg-name"] = st.Name

		out = append(out, m3u.ParsedStream{
			Name:  st.Name,
			URL:   urlFor(st.StreamID),
			Attrs: attrs,
		})
	}
	return out, groups
}
