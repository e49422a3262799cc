/*
Copyright © 2022 Nicholas McKinney
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/engine"
	"github.com/SabreTools/BinaryObjectScanner-sub006/internal/sniff"
)

// identifyCmd represents the identify command
var identifyCmd = &cobra.Command{
	Use:   "identify FILE",
	Short: "Identify embedded payloads without writing anything",
	Long: `Reports which extractors recognize a payload in the input executable and
what they found, without writing any output files.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		inputFilePath := args[0]
		fmt.Printf("[*] Input file: %s\n", inputFilePath)
		v := loadInput(inputFilePath)
		defer v.Close()

		fmt.Printf("[*] Image: %d bytes, %d section(s), %d resource(s), overlay at %d\n",
			v.Len(), len(v.Sections), len(v.Resources), v.OverlayOffset)

		found := engine.Identify(v, engine.Options{InputFs: afero.NewOsFs(), SniffHorizon: sniffHorizon})
		if len(found) == 0 {
			printError("no embedded payload identified\n")
			for _, set := range []sniff.Set{sniff.Overlay, sniff.Resource} {
				fmt.Printf("[*] Sniffed %s formats: %s\n", set.Name, strings.Join(set.Formats(), ", "))
			}
			v.Close()
			os.Exit(1)
		}
		for _, x := range found {
			fmt.Printf("[*] Extractor Identified: %s\n", x.Name())
			information, err := x.Identified()
			if err != nil {
				printError("%v\n", err)
				continue
			}
			fmt.Printf("%s", information)
		}
	},
}

func init() {
	rootCmd.AddCommand(identifyCmd)
}
