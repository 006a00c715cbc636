package main

import (
	"os"

	cmd "github.com/gossipmesh/gossipmesh/cmd/peer/commands"
)

func main() {
	os.Exit(cmd.Execute())
}
