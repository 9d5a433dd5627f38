package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueryCmd() *cobra.Command {
	var field string
	var start string
	var end string

	cmd := &cobra.Command{
		Use:   "query code",
		Short: "Prints one indicator series as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, _, err := initializeService()
			if err != nil {
				return err
			}
			defer db.Close()

			points, err := svc.GetSeries(cmd.Context(), args[0], field, start, end)
			if err != nil {
				return err
			}

			fmt.Println("date,value")
			for _, p := range points {
				fmt.Printf("%s,%g\n", p.Date.Format("2006-01-02"), p.Value)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&field, "field", "close", "field to read")
	cmd.Flags().StringVar(&start, "start", "1980-01-01", "start date, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "2100-01-01", "end date, YYYY-MM-DD")

	return cmd
}
