// Command agent0 runs the agent loop and inspects its state.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	var cli CLI
	parser, err := newParser(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[agent0] %v\n", err)
		os.Exit(1)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	// A missing .env is fine; values already in the environment win.
	_ = godotenv.Load(cli.Env)

	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "[agent0] %v\n", err)
		os.Exit(1)
	}
}
