/*
Copyright 2022

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/penny-vault/import-twse/twse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "import-twse",
	Short: "Download institutional investor trade summaries from TWSE and TPEx",
	Long: `Download the daily institutional investor (foreign, investment trust,
dealer) buy/sell summaries for tracked securities from the Taiwan Stock
Exchange and the Taipei Exchange and save per-day snapshots plus a running
per-stock history`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		securities, err := twse.LoadSecurities(viper.GetString("stock_list"))
		if err != nil {
			log.Error().Err(err).Str("FileName", viper.GetString("stock_list")).Msg("cannot load security list")
			return err
		}
		log.Info().Int("NumSecurities", len(securities)).Msg("loaded security list")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := twse.NewClient()
		store := twse.NewStore(viper.GetString("data_dir"))

		rows, summary := twse.Backfill(ctx, client, store, securities, viper.GetInt("days"))
		summary.Log()

		if viper.GetString("parquet_file") != "" {
			twse.SaveToParquet(rows, viper.GetString("parquet_file"))
		}

		if viper.GetString("database.url") != "" {
			twse.SaveToDatabase(rows, viper.GetString("database.url"))
		}

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnInitialize(initLog)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is import-twse.toml)")
	rootCmd.PersistentFlags().Bool("log.json", false, "print logs as json to stderr")
	viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log.json"))

	// Local flags
	rootCmd.Flags().IntP("days", "n", 1, "number of trailing days (including today) to process")
	viper.BindPFlag("days", rootCmd.Flags().Lookup("days"))

	rootCmd.Flags().StringP("stock-list", "s", "stock_list.csv", "CSV file listing tracked securities")
	viper.BindPFlag("stock_list", rootCmd.Flags().Lookup("stock-list"))

	rootCmd.Flags().String("data-dir", "data", "directory holding snapshot and accumulation files")
	viper.BindPFlag("data_dir", rootCmd.Flags().Lookup("data-dir"))

	rootCmd.Flags().IntP("workers", "w", 5, "number of days processed in parallel")
	viper.BindPFlag("workers", rootCmd.Flags().Lookup("workers"))

	rootCmd.Flags().Int("rate-limit", 2, "per-host rate limit (requests per second)")
	viper.BindPFlag("rate_limit", rootCmd.Flags().Lookup("rate-limit"))

	rootCmd.Flags().Int("fetch-timeout", 15, "per-request timeout in seconds")
	viper.BindPFlag("fetch_timeout", rootCmd.Flags().Lookup("fetch-timeout"))

	rootCmd.Flags().Int("max-retries", 3, "fetch attempts per sub-source before giving up")
	viper.BindPFlag("max_retries", rootCmd.Flags().Lookup("max-retries"))

	rootCmd.Flags().StringP("database-url", "d", "", "DSN for database connection")
	viper.BindPFlag("database.url", rootCmd.Flags().Lookup("database-url"))

	rootCmd.Flags().String("parquet-file", "", "save results to parquet")
	viper.BindPFlag("parquet_file", rootCmd.Flags().Lookup("parquet-file"))
}

func initLog() {
	if !viper.GetBool("log.json") {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".import-twse" (without extension).
		viper.AddConfigPath("/etc/import-twse/") // path to look for the config file in
		viper.AddConfigPath(fmt.Sprintf("%s/.import-twse", home))
		viper.AddConfigPath(".")
		viper.SetConfigType("toml")
		viper.SetConfigName("import-twse")
	}

	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("ConfigFile", viper.ConfigFileUsed()).Msg("Loaded config file")
	}
}
