package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/schoolwelfare/caseboard/pkg/rbac"
)

func newExportSnapshotCommand() *Command {
	cmd := &Command{
		Name:        "export-snapshot",
		Description: "Download the permission snapshot as JSON",
		Flags:       flag.NewFlagSet("export-snapshot", flag.ExitOnError),
		Run:         runExportSnapshot,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("out", "", "Output file (default: server-provided name, - for stdout)")

	return cmd
}

func runExportSnapshot(args []string) error {
	cmd := newExportSnapshotCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	client := clientFromFlags(cmd.Flags)
	out := cmd.Flags.Lookup("out").Value.String()

	data, filename, err := client.ExportSnapshot(context.Background())
	if err != nil {
		return fmt.Errorf("failed to export snapshot: %w", err)
	}

	if out == "" {
		out = filename
		if out == "" {
			out = rbac.SnapshotFilename(time.Now())
		}
	}
	if err := writeOutput(out, data); err != nil {
		return err
	}

	if out != "-" {
		log.WithField("file", out).Infof("Snapshot exported (%d bytes)", len(data))
	}
	return nil
}

func newImportSnapshotCommand() *Command {
	cmd := &Command{
		Name:        "import-snapshot",
		Description: "Replace all permissions with a snapshot file",
		Flags:       flag.NewFlagSet("import-snapshot", flag.ExitOnError),
		Run:         runImportSnapshot,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("file", "", "Snapshot file to import")
	cmd.Flags.Bool("dry-run", false, "Only validate the file locally")

	return cmd
}

func runImportSnapshot(args []string) error {
	cmd := newImportSnapshotCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	path := cmd.Flags.Lookup("file").Value.String()
	dryRun := cmd.Flags.Lookup("dry-run").Value.String() == "true"
	if path == "" {
		return fmt.Errorf("file is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Reject malformed files before they reach the server
	snap, err := rbac.ParseSnapshot(data)
	if err != nil {
		return err
	}
	if dryRun {
		fmt.Fprintf(stdout, "%s is valid: %d users, %d role defaults\n",
			path, len(snap.UserPermissions), len(snap.DefaultPermissionsByRole))
		return nil
	}

	client := clientFromFlags(cmd.Flags)
	users, err := client.ImportSnapshot(context.Background(), data)
	if err != nil {
		return fmt.Errorf("failed to import snapshot: %w", err)
	}

	fmt.Fprintf(stdout, "Imported %s: %d users\n", path, users)
	return nil
}
