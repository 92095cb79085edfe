// SPDX-License-Identifier: MIT

package domain

import (
	"fmt"
	"regexp"
)

// RewriteRule is one ordered search/replace step applied to a stream URL.
type RewriteRule struct {
	Search  string
	Replace string
}

// RewriteURL applies the ordered rule list to url and returns the result.
// When profile is non-nil and carries a rewrite pattern, it is applied after
// the rule list. Rules with invalid patterns are skipped.
func RewriteURL(url string, rules []RewriteRule, profile *StreamProfile) string {
	out := url
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Search)
		if err != nil {
			continue
		}
		out = re.ReplaceAllString(out, CanonicalReplacement(rule.Replace))
	}
	if profile != nil && profile.SearchPattern != "" {
		if re, err := regexp.Compile(profile.SearchPattern); err == nil {
			out = re.ReplaceAllString(out, CanonicalReplacement(profile.ReplacePattern))
		}
	}
	return out
}

var backrefPattern = regexp.MustCompile(`\\(\d+)`)

// CanonicalReplacement converts \1-style backreferences into the $1 form the
// regexp engine expands. $1-style input passes through unchanged.
func CanonicalReplacement(replace string) string {
	return backrefPattern.ReplaceAllString(replace, "$$$1")
}

// CompileNameRewrite prepares a rename function from a membership's pattern
// pair. A nil function and nil error mean no rename is configured.
func CompileNameRewrite(pattern, replace string) (func(string) string, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("name rewrite pattern %q: %w", pattern, err)
	}
	repl := CanonicalReplacement(replace)
	return func(name string) string {
		return re.ReplaceAllString(name, repl)
	}, nil
}
