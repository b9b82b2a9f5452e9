package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

var (
	// stdout receives command output; tests replace it
	stdout io.Writer = os.Stdout

	log = newLogger()
)

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

// Logger returns the CLI logger so the binary can adjust its level
func Logger() *logrus.Logger {
	return log
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "caseboard",
		Description: "Caseboard - school welfare permission administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("caseboard", flag.ExitOnError),
	}

	root.Subcommands["export-snapshot"] = newExportSnapshotCommand()
	root.Subcommands["import-snapshot"] = newImportSnapshotCommand()
	root.Subcommands["export-audit"] = newExportAuditCommand()
	root.Subcommands["bulk"] = newBulkCommand()
	root.Subcommands["check"] = newCheckCommand()

	return root
}

// Execute runs the subcommand named by os.Args
func (c *Command) Execute() error {
	return c.execute(os.Args[1:])
}

func (c *Command) execute(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-17s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// addClientFlags registers the flags every server-facing command shares
func addClientFlags(fs *flag.FlagSet) {
	fs.String("server", envOr("CASEBOARD_URL", "http://localhost:8080"), "Caseboard server URL")
	fs.String("as", os.Getenv("CASEBOARD_ACTOR"), "User id sent as X-User-ID")
	fs.Bool("verbose", false, "Log requests")
}

// clientFromFlags builds a client from the shared flags
func clientFromFlags(fs *flag.FlagSet) *Client {
	if fs.Lookup("verbose").Value.String() == "true" {
		log.SetLevel(logrus.DebugLevel)
	}
	return NewClient(fs.Lookup("server").Value.String(), fs.Lookup("as").Value.String())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// writeOutput writes data to path, or to stdout when path is "-"
func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
