package sqldb

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyQuery       = errors.New("empty SQL query")
	ErrMultipleQueries  = errors.New("multiple statements not allowed")
	ErrNotSelect        = errors.New("only SELECT statements allowed")
	ErrBlockedStatement = errors.New("blocked SQL pattern detected")
)

var writeKeywords = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|MERGE|UPSERT)\b`),
	regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|ALTER|CREATE|RENAME)\b`),
	regexp.MustCompile(`(?i)\b(GRANT|REVOKE|EXEC|EXECUTE|CALL)\b`),
	regexp.MustCompile(`(?i)\bINTO\s+(OUTFILE|DUMPFILE)\b`),
	regexp.MustCompile(`(?i)\bLOAD(_FILE|\s+DATA)\b`),
}

// dialectPatterns block functions that reach outside the database
var dialectPatterns = map[string][]*regexp.Regexp{
	"postgres": {
		regexp.MustCompile(`(?i)\bpg_(read|write)_(binary_)?file\b`),
		regexp.MustCompile(`(?i)\bpg_ls_dir\b`),
		regexp.MustCompile(`(?i)\blo_(import|export)\b`),
		regexp.MustCompile(`(?i)\bCOPY\b`),
		regexp.MustCompile(`(?i)\bdblink`),
	},
	"mysql": {
		regexp.MustCompile(`(?i)\bsys_exec\b`),
	},
	"sqlite": {
		regexp.MustCompile(`(?i)\b(ATTACH|DETACH)\b`),
		regexp.MustCompile(`(?i)\bload_extension\b`),
		regexp.MustCompile(`(?i)\bPRAGMA\b`),
	},
}

var (
	lineComment  = regexp.MustCompile(`--[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	limitClause  = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
)

func stripComments(query string) string {
	query = blockComment.ReplaceAllString(query, " ")
	return lineComment.ReplaceAllString(query, " ")
}

// ValidateSQL accepts a single read-only SELECT (or WITH ... SELECT) statement
func ValidateSQL(query, dialect string) error {
	q := strings.TrimSpace(stripComments(query))
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	if q == "" {
		return ErrEmptyQuery
	}
	if strings.Contains(q, ";") {
		return ErrMultipleQueries
	}

	upper := strings.ToUpper(q)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotSelect
	}

	for _, p := range writeKeywords {
		if p.MatchString(q) {
			return fmt.Errorf("%w: %s", ErrBlockedStatement, p.FindString(q))
		}
	}
	for _, p := range dialectPatterns[dialect] {
		if p.MatchString(q) {
			return fmt.Errorf("%w: %s", ErrBlockedStatement, p.FindString(q))
		}
	}
	return nil
}

// EnforceLimit appends a LIMIT when the outer query has none. One row over
// maxRows is requested so truncation can be detected.
func EnforceLimit(query string, maxRows int) string {
	q := strings.TrimSuffix(strings.TrimSpace(stripComments(query)), ";")
	if limitClause.MatchString(q) {
		return q
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimSpace(q), maxRows+1)
}
