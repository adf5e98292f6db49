package main

import (
	"context"
	"fmt"
	"os"

	"github.com/likearthian/multistore/internal/cli"
)

var version = "dev"

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return cli.NewRootCmd(version).ExecuteContext(ctx)
}
