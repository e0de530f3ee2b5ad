package prbot

import (
	"regexp"
)

// Category represents the type of changes in a PR
type Category string

const (
	CategorySecurity     Category = "security"
	CategoryArchitecture Category = "architecture"
	CategoryMigrations   Category = "migrations"
	CategoryRoutine      Category = "routine"
)

var (
	securityPatterns = compile(
		`(?i)auth`,
		`(?i)password`,
		`(?i)credential`,
		`(?i)secret`,
		`(?i)token`,
		`(?i)crypt`,
		`(?i)permission`,
		`(?i)oauth`,
		`(?i)session`,
	)

	migrationPatterns = compile(
		`(^|/)migrations?/`,
		`(?i)\.sql$`,
	)

	architecturePatterns = compile(
		`(^|/)go\.(mod|sum)$`,
		`(^|/)package(-lock)?\.json$`,
		`(^|/)Cargo\.toml$`,
		`(^|/)(pyproject\.toml|requirements\.txt)$`,
		`(?i)(^|/)api/`,
		`(?i)\.proto$`,
	)
)

func compile(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// Categorize classifies a change by the paths it touches
func Categorize(files []string) Category {
	// Check in order of priority
	if anyMatch(files, securityPatterns) {
		return CategorySecurity
	}
	if anyMatch(files, migrationPatterns) {
		return CategoryMigrations
	}
	if anyMatch(files, architecturePatterns) {
		return CategoryArchitecture
	}
	return CategoryRoutine
}

func anyMatch(files []string, patterns []*regexp.Regexp) bool {
	for _, f := range files {
		for _, re := range patterns {
			if re.MatchString(f) {
				return true
			}
		}
	}
	return false
}

// GetLabels returns labels to apply based on category
func GetLabels(category Category) []string {
	switch category {
	case CategorySecurity:
		return []string{"needs-human-review", "security"}
	case CategoryArchitecture:
		return []string{"needs-human-review", "architecture"}
	case CategoryMigrations:
		return []string{"needs-human-review", "database"}
	default:
		return nil
	}
}
