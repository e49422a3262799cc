/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/env"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/view"
)

var (
	verbose      bool
	sniffHorizon int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "payloadx",
	Short: "Identifies and extracts payloads embedded in Windows executables",
	Long: `Identifies and extracts payloads hidden inside Windows executables, including:

* archives and images appended as an overlay (7z SFX, zip, cab, rar, ...)
* archives, images and HTML stored as resources
* CExe compressed programs (SZDD or DEFLATE)
* scripted installer packages, single or multi-volume
* nested multi-file packages`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.Init("DEBUG")
			return
		}
		logger.Init(env.LogLevel())
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadInput maps the input file, exiting on failure like the other commands.
func loadInput(path string) *view.Executable {
	v, err := view.Load(path)
	if err != nil {
		printError("unable to read input file. %v\n", err)
		os.Exit(1)
	}
	return v
}

func init() {
	// a missing .env file is not an error
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print diagnostics for failed extractions")
	rootCmd.PersistentFlags().IntVar(&sniffHorizon, "horizon", env.SniffHorizon(), "Number of offsets tried when sniffing for a signature")
}
