package main

import (
	"os"

	cmd "github.com/gossipmesh/gossipmesh/cmd/seed/commands"
)

func main() {
	os.Exit(cmd.Execute())
}
