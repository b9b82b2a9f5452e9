package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/schoolwelfare/caseboard/pkg/cli"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, cli.ErrDenied) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
