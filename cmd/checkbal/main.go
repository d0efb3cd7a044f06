// checkbal prints the sponsor wallet's balance. Operator tool for checking
// the gas float before/after a batch run.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gatehouse/sponsor-coordinator/internal/chain"
	"github.com/gatehouse/sponsor-coordinator/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	client, err := chain.NewClient(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chain:", err)
		os.Exit(1)
	}

	bal, err := client.Balance(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "balance:", err)
		os.Exit(1)
	}

	fmt.Printf("sponsor %s balance: %s wei\n", client.Sponsor().Hex(), bal)
}
