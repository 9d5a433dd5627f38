package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Persevera-Asset-Management/PerseveraTools/service"
)

func newFundsCmd() *cobra.Command {
	var skipSave bool
	var table string
	var retries int
	var endDate string

	cmd := &cobra.Command{
		Use:   "funds [cnpj...]",
		Short: "Fetches CVM fund filings and upserts them; all funds when no CNPJ is given",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, log, err := initializeService()
			if err != nil {
				return err
			}
			defer db.Close()

			funds, err := svc.GetFundData(cmd.Context(), service.FundOptions{
				SkipSave:      skipSave,
				TableName:     table,
				RetryAttempts: retries,
				EndDate:       endDate,
				CNPJs:         args,
			})
			if err != nil {
				log.Error(fmt.Sprintf("Error ingesting fund filings: %v", err))
				return err
			}

			log.Info(fmt.Sprintf("Ingested %d fund records", len(funds)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipSave, "skip-save", false, "fetch without writing to the database")
	cmd.Flags().StringVar(&table, "table", "", "override the destination table")
	cmd.Flags().IntVar(&retries, "retries", 0, "retrieval attempts (default 3)")
	cmd.Flags().StringVar(&endDate, "end", "", "last month to fetch, YYYY-MM-DD (default today)")

	return cmd
}
