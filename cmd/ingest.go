package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Persevera-Asset-Management/PerseveraTools/service"
)

func serviceOptions(skipSave bool, table string, retries int) service.Options {
	return service.Options{
		SkipSave:      skipSave,
		TableName:     table,
		RetryAttempts: retries,
	}
}

func newIngestCmd() *cobra.Command {
	var skipSave bool
	var table string
	var retries int

	cmd := &cobra.Command{
		Use:   "ingest [source...]",
		Short: "Fetches data from the given sources and upserts it into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, log, err := initializeService()
			if err != nil {
				return err
			}
			defer db.Close()

			sources := args
			if len(sources) == 0 {
				sources = svc.Sources()
			}

			var failed []string
			for _, source := range sources {
				obs, err := svc.GetData(cmd.Context(), source, serviceOptions(skipSave, table, retries))
				if err != nil {
					log.Error(fmt.Sprintf("Error ingesting %s: %v", source, err))
					failed = append(failed, source)
					continue
				}
				log.Info(fmt.Sprintf("Ingested %d observations from %s", len(obs), source))
			}

			if len(failed) > 0 {
				return fmt.Errorf("ingestion failed for sources: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipSave, "skip-save", false, "fetch without writing to the database")
	cmd.Flags().StringVar(&table, "table", "", "override the destination table")
	cmd.Flags().IntVar(&retries, "retries", 0, "retrieval attempts per source (default 3)")

	return cmd
}
