package audit

import (
	"fmt"
	"net/http"
	"strings"
)

// Rule matches a method and path. A path ending in "/*" matches any path
// below that prefix; otherwise the match is exact. An empty method matches
// every method.
type Rule struct {
	Method string
	Path   string
	Prefix bool
}

// ParseRule reads "METHOD /path" or "/path", with an optional trailing "/*".
func ParseRule(spec string) (Rule, error) {
	fields := strings.Fields(spec)
	var rule Rule
	switch len(fields) {
	case 1:
		rule.Path = fields[0]
	case 2:
		rule.Method = strings.ToUpper(fields[0])
		rule.Path = fields[1]
	default:
		return Rule{}, fmt.Errorf("invalid path rule %q", spec)
	}
	if !strings.HasPrefix(rule.Path, "/") {
		return Rule{}, fmt.Errorf("invalid path rule %q: path must start with /", spec)
	}
	if strings.HasSuffix(rule.Path, "/*") {
		rule.Path = strings.TrimSuffix(rule.Path, "*")
		rule.Prefix = true
	}
	return rule, nil
}

func (r Rule) Matches(method, path string) bool {
	if r.Method != "" && r.Method != method {
		return false
	}
	if r.Prefix {
		return strings.HasPrefix(path, r.Path) && len(path) > len(r.Path)
	}
	return path == r.Path
}

// Matcher is an allow-list of rules.
type Matcher struct {
	rules []Rule
}

// NewMatcher parses every spec; the first invalid one is returned as an error.
func NewMatcher(specs []string) (*Matcher, error) {
	m := &Matcher{}
	for _, spec := range specs {
		rule, err := ParseRule(spec)
		if err != nil {
			return nil, err
		}
		m.rules = append(m.rules, rule)
	}
	return m, nil
}

// Match reports whether the request is on the allow-list.
func (m *Matcher) Match(r *http.Request) bool {
	if m == nil {
		return false
	}
	return m.MatchPath(r.Method, r.URL.Path)
}

func (m *Matcher) MatchPath(method, path string) bool {
	if m == nil {
		return false
	}
	for _, rule := range m.rules {
		if rule.Matches(method, path) {
			return true
		}
	}
	return false
}
