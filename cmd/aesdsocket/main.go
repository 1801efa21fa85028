package main

import (
	"context"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
)

var Ctx context.Context

func init() {
	Ctx = context.Background()
}

func main() {
	parser := kong.Must(&cli,
		kong.Name("aesdsocket"),
		kong.Description("Append newline-terminated packets to a file and echo the whole file back."),
	)

	// Usage errors exit 1 like every other setup failure.
	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	if err := ctx.Run(); err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}
