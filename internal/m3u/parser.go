// Package m3u implements the line-oriented playlist dialect: #EXTM3U /
// #EXTINF: records with tolerant attribute parsing.
package m3u

import (
	"sort"
	"strings"
)

const (
	headerSentinel = "#EXTM3U"
	entrySentinel  = "#EXTINF:"
)

// ParsedStream is one normalized playlist record.
type ParsedStream struct {
	Name  string            `json:"name"`
	URL   string            `json:"url"`
	Attrs map[string]string `json:"attrs"`
}

// GroupInfo carries upstream-provided group identifiers.
type GroupInfo struct {
	XCID string `json:"xc_id,omitempty"`
}

// Groups maps group name to upstream metadata.
type Groups map[string]GroupInfo

// Attr performs a case-insensitive attribute lookup.
func (p ParsedStream) Attr(key string) string {
	if v, ok := p.Attrs[key]; ok {
		return v
	}
	for k, v := range p.Attrs {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// GroupTitle returns the stream's group, defaulting to the sentinel group.
func (p ParsedStream) GroupTitle() string {
	if g := p.Attr("group-title"); g != "" {
		return g
	}
	return "Default Group"
}

// Parse scans playlist lines into streams and the observed group set. A
// header line binds to the next line beginning with "http"; headers with no
// URL before the next header are discarded. The sentinel "Default Group" is
// always present in the returned group set.
func Parse(lines []string) ([]ParsedStream, Groups) {
	var streams []ParsedStream
	groups := Groups{"Default Group": {}}

	var pending *ParsedStream
	for _, raw := range lines {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, entrySentinel) {
			s := parseExtinf(line)
			pending = &s
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if pending != nil && strings.HasPrefix(line, "http") {
			pending.URL = line
			if _, ok := groups[pending.GroupTitle()]; !ok {
				groups[pending.GroupTitle()] = GroupInfo{}
			}
			streams = append(streams, *pending)
		}
		pending = nil
	}
	return streams, groups
}

// parseExtinf splits a header on the first comma outside quotes; the left
// side is the attribute list, the right side the fallback display name.
func parseExtinf(line string) ParsedStream {
	body := strings.TrimPrefix(line, entrySentinel)

	attrPart := body
	display := ""
	inQuote := byte(0)
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case inQuote != 0:
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
		case c == ',':
			attrPart = body[:i]
			display = strings.TrimSpace(body[i+1:])
			i = len(body)
		}
	}

	attrs := parseAttrs(attrPart)
	name := display
	if tvgName := lookupFold(attrs, "tvg-name"); tvgName != "" {
		name = tvgName
	}
	return ParsedStream{Name: name, Attrs: attrs}
}

// parseAttrs reads key=value pairs. Values may be double-quoted,
// single-quoted, or bare (terminated by whitespace). The leading duration
// token is skipped. Unknown attributes are preserved verbatim.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	// skip the duration token before the first attribute
	for i < len(s) && s[i] != ' ' && s[i] != '\t' {
		if s[i] == '=' {
			i = 0
			break
		}
		i++
	}
	for i < len(s) {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq <= 0 {
			break
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1
		if i >= len(s) {
			break
		}
		var val string
		if s[i] == '"' || s[i] == '\'' {
			quote := s[i]
			i++
			end := strings.IndexByte(s[i:], quote)
			if end < 0 {
				val = s[i:]
				i = len(s)
			} else {
				val = s[i : i+end]
				i += end + 1
			}
		} else {
			end := i
			for end < len(s) && s[end] != ' ' && s[end] != '\t' {
				end++
			}
			val = s[i:end]
			i = end
		}
		if key != "" {
			attrs[key] = val
		}
	}
	return attrs
}

func lookupFold(attrs map[string]string, key string) string {
	if v, ok := attrs[key]; ok {
		return v
	}
	for k, v := range attrs {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Emit renders a stream back into its two playlist lines. Attribute order is
// unspecified; emission sorts keys for determinism.
func Emit(s ParsedStream) []string {
	var b strings.Builder
	b.WriteString(entrySentinel)
	b.WriteString("-1")
	keys := make([]string, 0, len(s.Attrs))
	for k := range s.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(s.Attrs[k])
		b.WriteByte('"')
	}
	b.WriteByte(',')
	b.WriteString(s.Name)
	return []string{b.String(), s.URL}
}
