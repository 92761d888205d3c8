// Command plansim simulates agents executing daily plans.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/anggasct/planfsm/internal/cli"
	"github.com/anggasct/planfsm/pkg/logger"
)

func main() {
	logger.Initialize()
	if err := cli.New().Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
