package detection

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// SignatureThreshold is the normalized rule score at which a rule fires.
const SignatureThreshold = 0.7

// Pattern is one weighted condition of a rule.
type Pattern struct {
	Field  string // url, query, headers, body
	Expr   *regexp.Regexp
	Weight float64
}

// Rule scores a request by the weight of its matching patterns over the
// weight of all its patterns.
type Rule struct {
	ID       string
	Name     string
	Patterns []Pattern
	Enabled  bool
}

// Signature matches requests against known attack patterns.
type Signature struct {
	rules []*Rule
}

// NewSignature builds a detector with the default rules plus extra.
func NewSignature(extra ...*Rule) *Signature {
	s := &Signature{}
	s.rules = append(defaultRules(), extra...)
	return s
}

func (s *Signature) Type() string { return TypeSignature }

// Rules returns the enabled rules sorted by id.
func (s *Signature) Rules() []*Rule {
	out := make([]*Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func fieldValue(r *Request, field string) string {
	switch field {
	case "url":
		p, err := url.PathUnescape(r.Path)
		if err != nil {
			return r.Path
		}
		return p
	case "query":
		q, err := url.QueryUnescape(r.Query.Encode())
		if err != nil {
			return r.Query.Encode()
		}
		return q
	case "headers":
		var b strings.Builder
		for k, vs := range r.Header {
			for _, v := range vs {
				b.WriteString(k)
				b.WriteString(": ")
				b.WriteString(v)
				b.WriteByte('\n')
			}
		}
		return b.String()
	case "body":
		return string(r.Body)
	default:
		return ""
	}
}

// score evaluates rule against r. Each pattern counts once however many
// fields it matches.
func (rule *Rule) score(r *Request) float64 {
	var score, total float64
	for _, p := range rule.Patterns {
		total += p.Weight
		fields := []string{p.Field}
		if p.Field == "*" {
			fields = []string{"url", "query", "headers", "body"}
		}
		for _, f := range fields {
			if p.Expr.MatchString(fieldValue(r, f)) {
				score += p.Weight
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return score / total
}

func (s *Signature) Inspect(r *Request) Verdict {
	var v Verdict
	var hits []string
	seen := map[string]bool{}
	for _, rule := range s.Rules() {
		sc := rule.score(r)
		if sc > v.Score {
			v.Score = sc
		}
		if sc >= SignatureThreshold && !seen[rule.Name] {
			seen[rule.Name] = true
			hits = append(hits, rule.Name)
		}
	}
	if len(hits) > 0 {
		v.Detected = true
		v.Reason = strings.Join(hits, ", ")
	}
	return v
}

func defaultRules() []*Rule {
	re := regexp.MustCompile
	return []*Rule{
		{
			ID:   "sql_injection",
			Name: "SQL Injection",
			Patterns: []Pattern{
				{Field: "*", Expr: re(`(?i)(\bunion\b[\s\S]*\bselect\b|\binsert\s+into\b|\bdrop\s+table\b|\bdelete\s+from\b)`), Weight: 3.0},
				{Field: "*", Expr: re(`(--|#|/\*)`), Weight: 0.5},
			},
			Enabled: true,
		},
		{
			ID:   "sql_tautology",
			Name: "SQL Injection",
			Patterns: []Pattern{
				{Field: "*", Expr: re(`(?i)('|%27)\s*(or|and)\s*('|%27)?\s*\w*\s*('|%27)?\s*=`), Weight: 3.0},
				{Field: "*", Expr: re(`(--|#|/\*)`), Weight: 0.5},
			},
			Enabled: true,
		},
		{
			ID:   "xss",
			Name: "Cross-Site Scripting",
			Patterns: []Pattern{
				{Field: "*", Expr: re(`(?i)<\s*script\b|javascript:|on(error|load|click|mouseover)\s*=|<\s*(img|iframe|svg)\b`), Weight: 3.0},
				{Field: "*", Expr: re(`(?i)(alert|prompt|confirm)\s*\(|document\.(cookie|location)`), Weight: 1.0},
			},
			Enabled: true,
		},
		{
			ID:   "path_traversal",
			Name: "Path Traversal",
			Patterns: []Pattern{
				{Field: "*", Expr: re(`(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f)`), Weight: 3.0},
				{Field: "*", Expr: re(`(?i)(/etc/passwd|/etc/shadow|win\.ini|boot\.ini)`), Weight: 1.0},
			},
			Enabled: true,
		},
		{
			ID:   "command_injection",
			Name: "Command Injection",
			Patterns: []Pattern{
				{Field: "*", Expr: re("(;|&&|\\|\\||\\||`|\\$\\()\\s*(cat|ls|id|whoami|uname|wget|curl|nc|bash|sh|rm)\\b"), Weight: 3.0},
				{Field: "*", Expr: re(`(?i)(/bin/(ba)?sh|cmd\.exe|powershell)`), Weight: 1.0},
			},
			Enabled: true,
		},
		{
			ID:   "header_injection",
			Name: "Header Injection",
			Patterns: []Pattern{
				{Field: "*", Expr: re(`(?i)(%0d%0a|\r\n|%0a)\s*(set-cookie|location|content-type)\s*:`), Weight: 3.0},
			},
			Enabled: true,
		},
	}
}
