package m3u

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	lines := []string{
		"#EXTM3U",
		`#EXTINF:-1 tvg-id="sport1" tvg-logo="L1" group-title="Sports",Sport HD`,
		"http://a.example/s1.ts",
		`#EXTINF:-1 tvg-id="news1" group-title="News",News 24`,
		"http://a.example/s2.ts",
	}
	streams, groups := Parse(lines)
	require.Len(t, streams, 2)

	assert.Equal(t, "Sport HD", streams[0].Name)
	assert.Equal(t, "http://a.example/s1.ts", streams[0].URL)
	assert.Equal(t, "sport1", streams[0].Attr("tvg-id"))
	assert.Equal(t, "L1", streams[0].Attr("tvg-logo"))
	assert.Equal(t, "Sports", streams[0].GroupTitle())

	assert.Equal(t, "News 24", streams[1].Name)
	assert.Contains(t, groups, "Sports")
	assert.Contains(t, groups, "News")
	assert.Contains(t, groups, "Default Group")
}

func TestParseTvgNameWinsOverDisplayName(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 tvg-name="Proper Name" group-title="G",Fallback`,
		"http://x/1.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "Proper Name", streams[0].Name)
}

func TestParseQuotedCommaInAttribute(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 tvg-name="News, Weather & Sport" group-title="UK, Ireland",Display`,
		"http://x/1.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "News, Weather & Sport", streams[0].Name)
	assert.Equal(t, "UK, Ireland", streams[0].GroupTitle())
}

func TestParseCaseInsensitiveAttributeKeys(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 TVG-ID="abc" Group-Title="Mixed",Name`,
		"http://x/1.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "abc", streams[0].Attr("tvg-id"))
	assert.Equal(t, "Mixed", streams[0].GroupTitle())
}

func TestParseSingleQuotesAndBareValues(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 tvg-id='single' tvg-chno=42 group-title="G",Name`,
		"http://x/1.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "single", streams[0].Attr("tvg-id"))
	assert.Equal(t, "42", streams[0].Attr("tvg-chno"))
}

func TestParseUnknownAttributesPreserved(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 x-custom="keep me" tvg-id="a",Name`,
		"http://x/1.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "keep me", streams[0].Attrs["x-custom"])
}

func TestParseDiscardsUnboundHeaders(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 group-title="A",Orphan`,
		`#EXTINF:-1 group-title="B",Bound`,
		"http://x/b.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "Bound", streams[0].Name)
}

func TestParseCRLFTolerant(t *testing.T) {
	content := "#EXTM3U\r\n#EXTINF:-1 group-title=\"G\",Name\r\nhttp://x/1.ts\r\n"
	streams, _ := Parse(strings.Split(content, "\n"))
	require.Len(t, streams, 1)
	assert.Equal(t, "http://x/1.ts", streams[0].URL)
}

func TestParseMissingDisplayName(t *testing.T) {
	streams, _ := Parse([]string{
		`#EXTINF:-1 tvg-id="only",`,
		"http://x/1.ts",
	})
	require.Len(t, streams, 1)
	assert.Equal(t, "", streams[0].Name)
}

// Re-emitting a parsed record reproduces the attribute multiset.
func TestEmitRoundTrip(t *testing.T) {
	in := []string{
		`#EXTINF:-1 group-title="Sports" tvg-id="sport1" tvg-logo="L1",Sport HD`,
		"http://a.example/s1.ts",
	}
	streams, _ := Parse(in)
	require.Len(t, streams, 1)

	emitted := Emit(streams[0])
	reparsed, _ := Parse(emitted)
	require.Len(t, reparsed, 1)

	if diff := cmp.Diff(streams[0].Attrs, reparsed[0].Attrs); diff != "" {
		t.Fatalf("attribute bag changed across round trip (-want +got):\n%s", diff)
	}
	assert.Equal(t, streams[0].Name, reparsed[0].Name)
	assert.Equal(t, streams[0].URL, reparsed[0].URL)
}

func TestLooksLikePlaylist(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  bool
	}{
		{"header sentinel", []string{"", "#EXTM3U"}, true},
		{"entry only", []string{"#EXTINF:-1,Name", "http://x"}, true},
		{"bare urls", []string{"http://x/1.ts"}, true},
		{"html page", []string{"<html><body>hi</body></html>"}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksLikePlaylist(tc.lines))
		})
	}
}

func TestDetectErrorPage(t *testing.T) {
	marker, found := DetectErrorPage("<HTML><title>Not Found</title>")
	assert.True(t, found)
	assert.NotEmpty(t, marker)

	_, found = DetectErrorPage("#EXTM3U\n#EXTINF:-1,Ch\nhttp://x")
	assert.False(t, found)
}
