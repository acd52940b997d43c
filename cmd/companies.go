package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/internal/store"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Browse acquired directory records",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored companies",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("runs"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		batch, _ := cmd.Flags().GetString("batch")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		companies, err := st.ListCompanies(ctx, store.CompanyFilter{
			Batch:  batch,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "companies list")
		}

		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies found.")
			return nil
		}

		formatCompanies(os.Stdout, companies)
		return nil
	},
}

func init() {
	companiesListCmd.Flags().String("batch", "", "filter by directory batch label")
	companiesListCmd.Flags().Int("limit", 50, "max number of companies to display")
	companiesListCmd.Flags().Int("offset", 0, "rows to skip, for paging")

	companiesCmd.AddCommand(companiesListCmd)
	rootCmd.AddCommand(companiesCmd)
}

// formatCompanies writes a tabular company list to w.
func formatCompanies(out io.Writer, companies []model.Company) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tBATCH\tLOCATION\tONE-LINER")
	_, _ = fmt.Fprintln(w, "----\t-----\t--------\t---------")

	for _, c := range companies {
		oneLiner := c.OneLiner
		if len(oneLiner) > 60 {
			oneLiner = oneLiner[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.Batch, c.Location, oneLiner)
	}
	_ = w.Flush()
}
