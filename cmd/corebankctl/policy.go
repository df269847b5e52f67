package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"corebank/internal/classification/models"
)

func newPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect provisioning policies",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a provisioning policy file and print its buckets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := models.LoadPolicyFile(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
			return printPolicy(cmd.OutOrStdout(), p)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the built-in provisioning policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printPolicy(cmd.OutOrStdout(), models.DefaultPolicy())
		},
	})
	return cmd
}

func printPolicy(w io.Writer, p models.Policy) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tDPD\tRATE\tSTAGE")
	for _, b := range p.Buckets {
		maxDPD := "+"
		if b.MaxDPD != models.OpenEnded {
			maxDPD = "-" + strconv.Itoa(b.MaxDPD)
		}
		fmt.Fprintf(tw, "%s\t%d%s\t%s\t%d\n", b.Class, b.MinDPD, maxDPD, b.Rate.String(), b.Stage)
	}
	fmt.Fprintf(tw, "deduct collateral: %t\n", p.DeductCollateral)
	return tw.Flush()
}
