package cmd

import (
	"fmt"
	"os"

	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Persevera-Asset-Management/PerseveraTools/config"
	"github.com/Persevera-Asset-Management/PerseveraTools/load"
	"github.com/Persevera-Asset-Management/PerseveraTools/logger"
	"github.com/Persevera-Asset-Management/PerseveraTools/service"
)

var rootCmd = &cobra.Command{
	Use:   "perseveratools",
	Short: "cli for financial data ingestion and queries",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newIngestCmd())
	rootCmd.AddCommand(newFundsCmd())
	rootCmd.AddCommand(newQueryCmd())
}

func initializeConfigAndLogger() (*config.Config, *slog.Logger, error) {
	log := logger.NewLogger()

	// A .env file is optional; environment variables may come from the
	// shell or the scheduler instead.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn(fmt.Sprintf("Error loading .env file: %v", err))
	}

	baseConfigFile, err := os.Open("config.base.yaml")
	if err != nil {
		log.Error(fmt.Sprintf("Error opening base config file: %v", err))
		return nil, nil, err
	}
	defer baseConfigFile.Close()

	env := os.Getenv("APP_ENV")
	var envConfigFile *os.File
	envConfigFilename := fmt.Sprintf("config.%s.yaml", env)
	if _, err := os.Stat(envConfigFilename); err == nil {
		envConfigFile, err = os.Open(envConfigFilename)
		if err != nil {
			log.Error(fmt.Sprintf("Error opening environment config file: %v", err))
			return nil, nil, err
		}
		defer envConfigFile.Close()
	}

	cfg, err := config.NewConfig(baseConfigFile, envConfigFile, env)
	if err != nil {
		log.Error(fmt.Sprintf("Error reading config: %v", err))
		return nil, nil, err
	}

	return cfg, log, nil
}

func initializeService() (*service.FinancialDataService, *load.DB, *slog.Logger, error) {
	cfg, log, err := initializeConfigAndLogger()
	if err != nil {
		return nil, nil, nil, err
	}

	db, err := load.NewDB(cfg, log)
	if err != nil {
		log.Error(fmt.Sprintf("Error connecting to database: %v", err))
		return nil, nil, nil, err
	}

	svc, err := service.New(cfg, db, log)
	if err != nil {
		db.Close()
		log.Error(fmt.Sprintf("Error initializing service: %v", err))
		return nil, nil, nil, err
	}

	return svc, db, log, nil
}
