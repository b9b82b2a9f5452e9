package cli

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/schoolwelfare/caseboard/pkg/audit"
)

func newExportAuditCommand() *Command {
	cmd := &Command{
		Name:        "export-audit",
		Description: "Download the audit log (csv, json or ndjson)",
		Flags:       flag.NewFlagSet("export-audit", flag.ExitOnError),
		Run:         runExportAudit,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("format", string(audit.ExportFormatCSV), "Export format: csv, json or ndjson")
	cmd.Flags.String("q", "", "Case-insensitive text filter")
	cmd.Flags.String("kind", "", "Comma-separated kinds: add, remove, update, reset")
	cmd.Flags.String("from", "", "Earliest timestamp (RFC3339 or YYYY-MM-DD)")
	cmd.Flags.String("to", "", "Latest timestamp (RFC3339 or YYYY-MM-DD, inclusive)")
	cmd.Flags.String("out", "", "Output file (default: server-provided name, - for stdout)")

	return cmd
}

func runExportAudit(args []string) error {
	cmd := newExportAuditCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	format := audit.ExportFormat(cmd.Flags.Lookup("format").Value.String())
	switch format {
	case audit.ExportFormatCSV, audit.ExportFormatJSON, audit.ExportFormatNDJSON:
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	query := url.Values{}
	for _, name := range []string{"q", "from", "to"} {
		if v := cmd.Flags.Lookup(name).Value.String(); v != "" {
			query.Set(name, v)
		}
	}
	for _, k := range strings.Split(cmd.Flags.Lookup("kind").Value.String(), ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, err := audit.ParseKind(k); err != nil {
			return err
		}
		query.Add("kind", k)
	}

	client := clientFromFlags(cmd.Flags)
	data, filename, err := client.ExportAudit(context.Background(), format, query)
	if err != nil {
		return fmt.Errorf("failed to export audit log: %w", err)
	}

	out := cmd.Flags.Lookup("out").Value.String()
	if out == "" {
		out = filename
		if out == "" {
			out = audit.ExportFilename(format)
		}
	}
	if err := writeOutput(out, data); err != nil {
		return err
	}

	if out != "-" {
		log.WithField("file", out).Infof("Audit log exported (%d bytes)", len(data))
	}
	return nil
}
