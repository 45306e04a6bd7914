package main

import (
	"context"
	"fmt"
	"os"

	"github.com/stupiduntilnot/relaybot/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "relaybot: %v\n", err)
		os.Exit(1)
	}
}
