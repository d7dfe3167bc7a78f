package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/meterlog/internal/app"
	"github.com/dmitrijs2005/meterlog/internal/config"
	"github.com/dmitrijs2005/meterlog/internal/flagx"
	"github.com/joho/godotenv"
)

func main() {
	// Missing .env is fine, the environment layer is optional.
	_ = godotenv.Load()

	cfg := config.LoadConfig()
	ctx := context.Background()

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer a.Close()

	args := flagx.Positionals(os.Args[1:], config.ConfigFlags)
	if err := a.Dispatch(ctx, args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
