package db

import (
	"fmt"
	"io"
	"io/fs"
	"log"
	"strconv"
)

// RunMigrateCommand handles `motion migrate <action>`. Output meant for the
// operator goes to out; progress goes to the log.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return err
	}

	// migrations alone manage the schema here
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return handleMigrateUp(database, migrationsFS, out)
	case "down":
		return handleMigrateDown(database, migrationsFS, out)
	case "status":
		return handleMigrateStatus(database, migrationsFS, out)
	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: motion migrate version <version_number>")
		}
		return handleMigrateVersion(database, migrationsFS, args[1], out)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: motion migrate force <version_number>")
		}
		return handleMigrateForce(database, migrationsFS, args[1], out)
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func handleMigrateUp(database *DB, migrationsFS fs.FS, out io.Writer) error {
	log.Printf("Running migrations on %s...", database.Path())
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	return printVersion(database, migrationsFS, out)
}

func handleMigrateDown(database *DB, migrationsFS fs.FS, out io.Writer) error {
	log.Printf("Rolling back one migration on %s...", database.Path())
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	return printVersion(database, migrationsFS, out)
}

func handleMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(out, "Latest version: %d\n", status.LatestVersion)
	fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
	if status.Dirty {
		fmt.Fprintln(out, "\nWARNING: a migration failed mid-execution.")
		fmt.Fprintln(out, "Inspect the database, then run: motion migrate force <version>")
	} else if status.Pending() {
		fmt.Fprintf(out, "\n%d migration(s) pending. Run: motion migrate up\n", status.LatestVersion-status.CurrentVersion)
	}
	return nil
}

func handleMigrateVersion(database *DB, migrationsFS fs.FS, versionStr string, out io.Writer) error {
	target, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid version number %q", versionStr)
	}
	log.Printf("Migrating to version %d...", target)
	if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
		return err
	}
	return printVersion(database, migrationsFS, out)
}

func handleMigrateForce(database *DB, migrationsFS fs.FS, versionStr string, out io.Writer) error {
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return fmt.Errorf("invalid version number %q", versionStr)
	}
	log.Printf("Forcing migration version to %d", version)
	if err := database.MigrateForce(migrationsFS, version); err != nil {
		return err
	}
	return printVersion(database, migrationsFS, out)
}

func printVersion(database *DB, migrationsFS fs.FS, out io.Writer) error {
	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprintln(out, "Database Migration Commands")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: motion migrate <command> [options]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up              Apply all pending migrations")
	fmt.Fprintln(out, "  down            Roll back one migration")
	fmt.Fprintln(out, "  status          Show current and latest schema versions")
	fmt.Fprintln(out, "  version <N>     Migrate to version N")
	fmt.Fprintln(out, "  force <N>       Force the recorded version to N (recovery only)")
	fmt.Fprintln(out, "  help            Show this help message")
}
