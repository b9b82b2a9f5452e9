package cli

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/schoolwelfare/caseboard/pkg/rbac"
)

func newBulkCommand() *Command {
	cmd := &Command{
		Name:        "bulk",
		Description: "Grant or revoke one permission for many users",
		Flags:       flag.NewFlagSet("bulk", flag.ExitOnError),
		Run:         runBulk,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("op", "add", "add or remove")
	cmd.Flags.String("module", "", "Module id, e.g. students")
	cmd.Flags.String("action", "", "Action id, e.g. edit")
	cmd.Flags.String("users", "", "Comma-separated user ids")
	cmd.Flags.String("users-file", "", "File with one user id per line")

	return cmd
}

func runBulk(args []string) error {
	cmd := newBulkCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	op := cmd.Flags.Lookup("op").Value.String()
	if op != "add" && op != "remove" {
		return fmt.Errorf("op must be add or remove, got %q", op)
	}

	req := rbac.BulkRequest{
		Module: cmd.Flags.Lookup("module").Value.String(),
		Action: cmd.Flags.Lookup("action").Value.String(),
	}
	if req.Module == "" || req.Action == "" {
		return fmt.Errorf("module and action are required")
	}

	for _, id := range strings.Split(cmd.Flags.Lookup("users").Value.String(), ",") {
		if id = strings.TrimSpace(id); id != "" {
			req.UserIDs = append(req.UserIDs, id)
		}
	}
	if path := cmd.Flags.Lookup("users-file").Value.String(); path != "" {
		ids, err := readUserIDs(path)
		if err != nil {
			return err
		}
		req.UserIDs = append(req.UserIDs, ids...)
	}
	if len(req.UserIDs) == 0 {
		return fmt.Errorf("at least one user is required (-users or -users-file)")
	}

	client := clientFromFlags(cmd.Flags)
	result, err := client.Bulk(context.Background(), op == "add", req)
	if err != nil {
		return fmt.Errorf("bulk %s failed: %w", op, err)
	}

	fmt.Fprintf(stdout, "%s:%s %s: %d changed, %d unchanged\n",
		req.Module, req.Action, op, len(result.Affected), len(result.Unchanged))
	for _, id := range result.Affected {
		fmt.Fprintf(stdout, "  %s\n", id)
	}
	return nil
}

// readUserIDs reads one id per line, skipping blanks and # comments
func readUserIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ids, nil
}
