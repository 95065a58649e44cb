package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "discogs-etl",
	Short: "Convert Discogs XML dumps into parquet",
	Long: `discogs-etl converts the monthly Discogs data dumps (artists, releases,
masters and labels) from XML into parquet, either onto local disk or
straight into an S3-compatible bucket partitioned by dump date.`,
}

// Execute runs the root command.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
