/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/engine"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/env"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/logger"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/probe"
)

var (
	inputFilePath string
	outputDirPath string
	verifyOutput  bool
)

func printError(format string, a ...any) {
	fmt.Printf("[!] "+format, a...)
}

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extracts every payload embedded in the input executable",
	Run: func(cmd *cobra.Command, args []string) {
		if inputFilePath == "" {
			printError("an input file is required\n")
			os.Exit(1)
		}
		fmt.Printf("[*] Input File: %s\n", inputFilePath)
		v := loadInput(inputFilePath)
		defer v.Close()

		fs := afero.NewOsFs()
		reports := engine.Run(v, engine.Options{
			OutputDir:    outputDirPath,
			Fs:           fs,
			InputFs:      fs,
			SniffHorizon: sniffHorizon,
		})
		for _, r := range reports {
			if r.Extracted {
				fmt.Printf("[*] %s: %s\n", r.Extractor, r.Result)
			} else if logger.Enabled() && r.Err != nil {
				printError("%s: %v\n", r.Extractor, r.Err)
			}
			for _, file := range r.Files {
				fmt.Printf("    %s\n", file)
				if verifyOutput && probe.Supported(file) {
					summary, err := probe.Probe(fs, file)
					if err != nil {
						printError("    unable to verify %s. %v\n", file, err)
						continue
					}
					fmt.Printf("      %s\n", summary)
				}
			}
		}

		if !engine.Extracted(reports) {
			printError("no embedded payload found\n")
			v.Close()
			os.Exit(1)
		}
		fmt.Printf("[+] Extraction Successful! Output written to: %s\n", outputDirPath)
	},
}

func init() {
	extractCmd.Flags().StringVar(&inputFilePath, "input", "", "Input File Path")
	extractCmd.Flags().StringVar(&outputDirPath, "output", env.OutputDir(), "Output Directory Path")
	extractCmd.Flags().BoolVar(&verifyOutput, "verify", false, "Open extracted archives to check they are readable")
	rootCmd.AddCommand(extractCmd)
}
