package main

import (
	"os"

	"github.com/cyderes/content-planner/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
