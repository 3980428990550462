package store

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestInitMigrationCreatesEveryWorkflowTable(t *testing.T) {
	upPath := filepath.Join("..", "..", "db", "migrations", "0001_init.up.sql")
	contents, err := os.ReadFile(upPath)
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	downPath := filepath.Join("..", "..", "db", "migrations", "0001_init.down.sql")
	downContents, err := os.ReadFile(downPath)
	if err != nil {
		t.Fatalf("read init down migration: %v", err)
	}

	tables := []string{
		"case_records",
		"case_history",
		"field_verifications",
		"sources",
		"quotes",
		"quote_field_links",
		"edit_suggestions",
		"proposed_changes",
		"validation_issues",
		"verification_requests",
		"verification_results",
		"verifier_profiles",
	}
	for _, table := range tables {
		create := regexp.MustCompile(`CREATE TABLE IF NOT EXISTS ` + table + `\b`)
		if !create.Match(contents) {
			t.Errorf("up migration does not create %s", table)
		}
		drop := regexp.MustCompile(`DROP TABLE IF EXISTS ` + table + `\b`)
		if !drop.Match(downContents) {
			t.Errorf("down migration does not drop %s", table)
		}
	}
}
