package main

import (
	"fmt"
	"os"

	"github.com/ent0n29/speechkit/cmd/speechctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "speechctl: %v\n", err)
		os.Exit(1)
	}
}
