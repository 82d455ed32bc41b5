package scanner

import (
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"

	"github.com/aragossa/tablescrub/pkg/table"
)

// Rule is one regex substitution of the redaction chain.
//
// Patterns are compiled with regexp2 so that \w, \d, \s and \b follow
// Unicode: "josé@example.com", a non-breaking space between two names and
// runs of Arabic-Indic digits are all matched.
type Rule struct {
	Name        string
	Pattern     *regexp2.Regexp
	Replacement string
	// Guard is a cheap pre-check; Pattern only runs when it reports true.
	// Nil means always run the regex.
	Guard func(string) bool
}

// Apply replaces every non-overlapping match of the rule in s.
func (r Rule) Apply(s string) string {
	if r.Guard != nil && !r.Guard(s) {
		return s
	}
	// Replace only fails when a match timeout is set; none is.
	out, err := r.Pattern.Replace(s, r.Replacement, -1, -1)
	if err != nil {
		return s
	}
	return out
}

// Matches reports whether the rule's pattern matches anywhere in s.
func (r Rule) Matches(s string) bool {
	ok, err := r.Pattern.MatchString(s)
	return err == nil && ok
}

const (
	EmailMask     = "***@***.com"
	NumericIDMask = "XXXXXXXXXX"
	NameMask      = "Anonymous"
)

var (
	// EmailRule masks anything shaped like local@domain.tld.
	EmailRule = Rule{
		Name:        "email",
		Pattern:     regexp2.MustCompile(`\b[\w.-]+@[\w.-]+\.\w+\b`, regexp2.None),
		Replacement: EmailMask,
		Guard:       func(s string) bool { return strings.Contains(s, "@") },
	}

	// NumericIDRule masks runs of 10+ decimal digits in any script (phone,
	// account numbers). The mask is always 10 characters long whatever the
	// run length.
	NumericIDRule = Rule{
		Name:        "numeric_id",
		Pattern:     regexp2.MustCompile(`\b\d{10,}\b`, regexp2.None),
		Replacement: NumericIDMask,
		Guard:       func(s string) bool { return strings.IndexFunc(s, unicode.IsDigit) >= 0 },
	}

	// NameRule masks two capitalized ASCII words separated by one whitespace
	// character. Known to hit place and product names as well.
	NameRule = Rule{
		Name:        "name",
		Pattern:     regexp2.MustCompile(`\b[A-Z][a-z]+\s[A-Z][a-z]+\b`, regexp2.None),
		Replacement: NameMask,
		Guard:       func(s string) bool { return strings.ContainsAny(s, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") },
	}
)

// Chain is an ordered list of rules; each rule sees the previous one's output.
type Chain []Rule

// DefaultChain is email, then long numeric ids, then names. The order is
// fixed: names must not see raw e-mail addresses.
var DefaultChain = Chain{EmailRule, NumericIDRule, NameRule}

// Apply runs every rule in order.
func (c Chain) Apply(s string) string {
	for _, r := range c {
		s = r.Apply(s)
	}
	return s
}

// ScanAndRedact runs the default chain over one text value.
func ScanAndRedact(text string) string {
	if len(text) == 0 {
		return ""
	}
	return DefaultChain.Apply(text)
}

// Stats summarises one RedactTable pass.
type Stats struct {
	Columns      int
	CellsScanned int
	CellsChanged int
	// RuleHits counts, per rule name, the cells that rule rewrote.
	RuleHits map[string]int
}

// RedactTable rewrites every cell of every text column in place. Cells in
// numeric and boolean columns are left as loaded. Null cells in text columns
// are scrubbed as "null" and become strings.
func (c Chain) RedactTable(t *table.Table) Stats {
	stats := Stats{RuleHits: make(map[string]int, len(c))}
	for _, col := range t.TextColumns() {
		stats.Columns++
		for i, cell := range col.Cells {
			in := cell.Text()
			out := in
			for _, r := range c {
				next := r.Apply(out)
				if next != out {
					stats.RuleHits[r.Name]++
				}
				out = next
			}
			stats.CellsScanned++
			if out != in {
				stats.CellsChanged++
			}
			col.Cells[i] = table.String(out)
		}
	}
	return stats
}

// RedactTable runs the default chain over t.
func RedactTable(t *table.Table) Stats {
	return DefaultChain.RedactTable(t)
}
