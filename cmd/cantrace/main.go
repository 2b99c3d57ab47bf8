package main

import (
	"os"

	"github.com/cantrace/backend/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
