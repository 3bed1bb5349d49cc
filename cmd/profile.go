package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/delivery-insights/internal/report"
)

var (
	profileFilter filterFlags
	profileJSON   bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Failure profile for a filtered order scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := profileFilter.build()
		if err != nil {
			return err
		}

		env, err := initAnalysis(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Analyzer.FailureProfile(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if profileJSON {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		fmt.Print(report.Profile(result))
		return nil
	},
}

func init() {
	profileFilter.register(profileCmd)
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "emit JSON instead of narrative")
	rootCmd.AddCommand(profileCmd)
}
