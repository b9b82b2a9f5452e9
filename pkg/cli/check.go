package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
)

// ErrDenied is returned by check when the permission is not held, so the
// process exits non-zero
var ErrDenied = errors.New("permission denied")

func newCheckCommand() *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Check whether a user holds a permission",
		Flags:       flag.NewFlagSet("check", flag.ExitOnError),
		Run:         runCheck,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("user", "", "User id")
	cmd.Flags.String("module", "", "Module id")
	cmd.Flags.String("action", "", "Action id")

	return cmd
}

func runCheck(args []string) error {
	cmd := newCheckCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	user := cmd.Flags.Lookup("user").Value.String()
	module := cmd.Flags.Lookup("module").Value.String()
	action := cmd.Flags.Lookup("action").Value.String()
	if user == "" || module == "" || action == "" {
		return fmt.Errorf("user, module and action are required")
	}

	client := clientFromFlags(cmd.Flags)
	allowed, err := client.Check(context.Background(), user, module, action)
	if err != nil {
		return err
	}

	if !allowed {
		fmt.Fprintf(stdout, "%s: %s:%s denied\n", user, module, action)
		return ErrDenied
	}
	fmt.Fprintf(stdout, "%s: %s:%s allowed\n", user, module, action)
	return nil
}
