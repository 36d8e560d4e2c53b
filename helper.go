package migrasi

import (
	"fmt"
	"go/format"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	identifierPattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	migrationNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	versionPrefixRegexp = regexp.MustCompile(`^(\d{14})_`)
)

func fileExists(fileName string) bool {
	_, err := os.Stat(fileName)
	return !os.IsNotExist(err)
}

func migrationDirExists(migrationFilesDir string) bool {
	info, err := os.Stat(migrationFilesDir)
	return err == nil && info.IsDir()
}

// printTable writes data to w as a boxed table. The first row is the header;
// paint, when set, colors each body row.
func printTable(w io.Writer, data [][]string, paint func(row []string) *color.Color) {
	if len(data) == 0 {
		fmt.Fprintln(w, "No data to display.")
		return
	}

	colWidths := make([]int, len(data[0]))
	for _, row := range data {
		for colIdx, col := range row {
			if len(col) > colWidths[colIdx] {
				colWidths[colIdx] = len(col)
			}
		}
	}

	printRow := func(row []string, c *color.Color) {
		fmt.Fprint(w, "|")
		for i, col := range row {
			cell := fmt.Sprintf(fmt.Sprintf(" %%-%ds ", colWidths[i]), col)
			if c != nil {
				cell = c.Sprint(cell)
			}
			fmt.Fprint(w, cell+"|")
		}
		fmt.Fprintln(w)
	}

	printSeparator := func() {
		fmt.Fprint(w, "+")
		for _, width := range colWidths {
			fmt.Fprint(w, strings.Repeat("-", width+2)+"+")
		}
		fmt.Fprintln(w)
	}

	printSeparator()
	printRow(data[0], color.New(color.Bold))
	printSeparator()

	for _, row := range data[1:] {
		var c *color.Color
		if paint != nil {
			c = paint(row)
		}
		printRow(row, c)
	}
	printSeparator()
}

func sanitizeMigrationName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ToLower(name)
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}

	if !migrationNameRegexp.MatchString(name) {
		return "", fmt.Errorf("invalid migration name: %s", name)
	}

	return name, nil
}

func sanitizeTableName(name string) (string, error) {
	if !identifierPattern.MatchString(name) {
		return "", fmt.Errorf("invalid table name: %s", name)
	}

	return name, nil
}

func migrationNameToStructName(migrationName string) (string, error) {
	matches := versionPrefixRegexp.FindStringSubmatch(migrationName)
	if len(matches) == 0 {
		return "", fmt.Errorf("invalid migration name: %s", migrationName)
	}
	timestamp := matches[1]

	parts := strings.Split(strings.TrimPrefix(migrationName, matches[0]), "_")
	caser := cases.Title(language.English)
	for i, part := range parts {
		parts[i] = caser.String(part)
	}

	return fmt.Sprintf("M%s%s", timestamp, strings.Join(parts, "")), nil
}

func getPackageNameFromMigrationDir(migrationFilesDir string) string {
	base := filepath.Base(filepath.Clean(migrationFilesDir))
	if base == "." || base == string(filepath.Separator) || !identifierPattern.MatchString(base) {
		return "migrations"
	}
	return base
}

func migrationFileTemplate(packageName string, migrationName string) (string, error) {
	structName, err := migrationNameToStructName(migrationName)
	if err != nil {
		return "", err
	}

	matches := versionPrefixRegexp.FindStringSubmatch(migrationName)
	version := matches[1]
	description := strings.ReplaceAll(strings.TrimPrefix(migrationName, matches[0]), "_", " ")

	migrationTemplate := fmt.Sprintf(`
		package %s

		import "github.com/ruangdeveloper/migrasi"

		var %s = migrasi.NewMigration(%q, %q).
			Up(migrasi.SQL()).
			Down(migrasi.SQL())
	`,
		packageName,
		structName,
		version,
		description,
	)

	formatted, err := format.Source([]byte(migrationTemplate))
	if err != nil {
		return "", err
	}

	return string(formatted), nil
}

func getSortedMigrations(migrations map[Version]*Migration) []*Migration {
	sorted := make([]*Migration, 0, len(migrations))
	for _, m := range migrations {
		sorted = append(sorted, m)
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version() < sorted[j].Version()
	})

	return sorted
}

func abbreviate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
