package main

import (
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
)

func main() {
	parser := kong.Must(&cli,
		kong.Name("writer"),
		kong.Description("Create or truncate a file and write a string to it."),
	)

	// Missing arguments are a plain failure, not kong's usage exit status.
	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}

	if err := ctx.Run(); err != nil {
		log.Fatal().Err(err).Msg("run failed")
	}
}
