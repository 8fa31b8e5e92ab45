package store

import (
	"path"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

	versionsByDialect := map[Dialect][]string{}
	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite} {
		files, err := migrationFiles(dialect, ".sql")
		if err != nil {
			t.Fatalf("list %s migrations: %v", dialect, err)
		}

		byVersion := map[string]map[string]bool{}
		for _, file := range files {
			match := pattern.FindStringSubmatch(path.Base(file))
			if match == nil {
				t.Fatalf("unexpected migration file name %s", file)
			}
			version, direction := match[1], match[2]
			if byVersion[version] == nil {
				byVersion[version] = map[string]bool{}
			}
			if byVersion[version][direction] {
				t.Fatalf("duplicate %s migration file for version %s", direction, version)
			}
			byVersion[version][direction] = true
		}

		if len(byVersion) == 0 {
			t.Fatalf("no %s migrations discovered", dialect)
		}
		for version, dirs := range byVersion {
			if !dirs["up"] || !dirs["down"] {
				t.Fatalf("%s version %s must include both up and down files", dialect, version)
			}
			versionsByDialect[dialect] = append(versionsByDialect[dialect], version)
		}
	}

	if len(versionsByDialect[DialectPostgres]) != len(versionsByDialect[DialectSQLite]) {
		t.Fatalf("dialects diverge: postgres has %d versions, sqlite has %d",
			len(versionsByDialect[DialectPostgres]), len(versionsByDialect[DialectSQLite]))
	}
}
