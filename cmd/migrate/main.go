package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"solar-platform/internal/app"
	"solar-platform/internal/config"
)

func main() {
	direction := pflag.String("direction", "up", "Migration direction: up or down")
	dir := pflag.String("dir", "migrations", "Directory containing *.up.sql and *.down.sql files")
	pflag.Parse()

	if *direction != "up" && *direction != "down" {
		fmt.Fprintf(os.Stderr, "Invalid direction %q, expected up or down\n", *direction)
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := sqlx.Connect("postgres", app.DatabaseConfig(cfg).DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	files, err := filepath.Glob(filepath.Join(*dir, "*."+*direction+".sql"))
	if err != nil || len(files) == 0 {
		fmt.Fprintf(os.Stderr, "No %s migrations found in %s\n", *direction, *dir)
		os.Exit(1)
	}
	// Files are numbered; down migrations run newest first.
	sort.Strings(files)
	if *direction == "down" {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read migration file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Running migration: %s\n", strings.TrimPrefix(path, *dir+string(filepath.Separator)))

		if _, err := db.Exec(string(content)); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to execute migration %s: %v\n", path, err)
			os.Exit(1)
		}
	}

	fmt.Println("Migration completed successfully")
}
