package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/toricodesthings/signature-extraction-service/internal/logger"
)

func main() {
	logger.Init(logger.FromEnv())
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	outputDir := &cli.StringFlag{
		Name:    "output-dir",
		Aliases: []string{"o"},
		Usage:   "directory crops and text files are written to (defaults to OUTPUT_DIR)",
	}
	return &cli.App{
		Name:  "sigextract",
		Usage: "extract signature crops and text lines from document images",
		Commands: []*cli.Command{
			{
				Name:      "signatures",
				Usage:     "crop every detected signature into PNG files",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					outputDir,
					&cli.StringFlag{Name: "base-url", Usage: "print public URLs under this origin instead of local paths"},
					&cli.BoolFlag{Name: "forms", Usage: "also write an XLSX report of form key/value pairs"},
				},
				Action: SignaturesAction,
			},
			{
				Name:      "text",
				Usage:     "write detected text lines to a text file",
				ArgsUsage: "FILE...",
				Flags:     []cli.Flag{outputDir},
				Action:    TextAction,
			},
		},
	}
}
