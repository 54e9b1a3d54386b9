// Licensed under the Apache-2.0 license

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	verification "github.com/ARM-software/psa-arch-tests/verification/testing"
)

var vectorsCmd = &cobra.Command{
	Use:   "vectors",
	Short: "List the cipher vectors",
	Long: `List the cipher vectors the crypto suite runs. With --json the vectors
are written in the file format accepted by "run --vectors", which is a
starting point for a custom vector file.`,
	Args: cobra.NoArgs,
	RunE: listVectors,
}

var vectorsJSON bool

func init() {
	vectorsCmd.Flags().BoolVar(&vectorsJSON, "json", false, "Write the vectors as JSON")
	vectorsCmd.Flags().StringVar(&vectorsFile, "vectors", "", "List the vectors of this file instead of the built-in ones")
	rootCmd.AddCommand(vectorsCmd)
}

func listVectors(cmd *cobra.Command, args []string) error {
	vectors := verification.CipherFinishVectors
	path := vectorsFile
	if path == "" {
		path = cfg.Harness.VectorsFile
	}
	if path != "" {
		var err error
		if vectors, err = verification.LoadCipherVectors(path); err != nil {
			return err
		}
	}

	if vectorsJSON {
		return verification.WriteCipherVectors(cmd.OutOrStdout(), vectors)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tDESCRIPTION\tKEY TYPE\tALGORITHM\tUSAGE\tEXPECTED")
	for i, v := range vectors {
		fmt.Fprintf(tw, "%d\t%s\t%v\t%v\t%v\t%v\n", i+1, v.Description, v.KeyType, v.Alg, v.Usage, v.ExpectedStatus)
	}
	return tw.Flush()
}
