package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "planetafiscal",
		Usage: "extract structured requests (cliente, monto, fecha, tipo) from business documents",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "optional YAML config file", EnvVars: []string{"PLANETAFISCAL_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error"},
			&cli.StringFlag{Name: "log-format", Usage: "text|json"},
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "process every document of the input directory",
				Flags:  append(backendFlags(), runFlags()...),
				Action: runAction,
			},
			{
				Name:      "extract",
				Usage:     "process a single document and print the result",
				ArgsUsage: "<file>",
				Flags:     backendFlags(),
				Action:    extractAction,
			},
			{
				Name:      "validate",
				Usage:     "check a backend response offline against the record schema",
				ArgsUsage: "<file.json>",
				Action:    validateAction,
			},
			{
				Name:  "load-sql",
				Usage: "insert the successful records of an existing summary into the database",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "summary", Value: "datos_salida/resumen_completo.json", Usage: "summary artifact path"},
					&cli.StringFlag{Name: "db", Usage: "database DSN (postgres://, sqlite://, file:)"},
					&cli.BoolFlag{Name: "create-table", Usage: "create the solicitudes table if missing"},
				},
				Action: loadSQLAction,
			},
			{
				Name:  "db-check",
				Usage: "ping the database and count stored requests",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "database DSN (postgres://, sqlite://, file:)"},
					&cli.BoolFlag{Name: "create-table", Usage: "create the solicitudes table if missing"},
				},
				Action: dbCheckAction,
			},
			{
				Name:   "watch",
				Usage:  "process documents as they appear in the input directory",
				Flags:  append(backendFlags(), runFlags()...),
				Action: watchAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "provider", Usage: "extraction backend: openai|vertex"},
		&cli.StringFlag{Name: "model", Usage: "backend model name"},
		&cli.IntFlag{Name: "max-attempts", Usage: "extraction attempts per document"},
		&cli.Float64Flag{Name: "rps", Usage: "max backend requests per second (0 = unlimited)"},
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "input directory"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output directory or gs://bucket/prefix"},
		&cli.IntFlag{Name: "workers", Aliases: []string{"w"}, Usage: "documents processed concurrently"},
		&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "descend into subdirectories"},
		&cli.StringFlag{Name: "db", Usage: "optional SQL sink DSN"},
		&cli.BoolFlag{Name: "create-table", Usage: "create the solicitudes table if missing"},
		&cli.StringFlag{Name: "xlsx", Usage: "optional XLSX report path"},
	}
}
