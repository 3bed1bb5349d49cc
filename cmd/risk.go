package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/delivery-insights/internal/report"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Forward-looking risk projections",
}

var (
	festivalFilter filterFlags
	festivalJSON   bool
)

var riskFestivalCmd = &cobra.Command{
	Use:   "festival",
	Short: "Project failure risk for the next festival period from historical holiday/strike days",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := festivalFilter.build()
		if err != nil {
			return err
		}

		env, err := initAnalysis(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		proj, err := env.Analyzer.ProjectFestivalRisk(cmd.Context(), filter)
		if err != nil {
			return err
		}

		if festivalJSON {
			return json.NewEncoder(os.Stdout).Encode(proj)
		}
		fmt.Print(report.FestivalRisk(proj))
		return nil
	},
}

var (
	scalingFilter filterFlags
	scalingExtra  int
	scalingMonths int
	scalingJSON   bool
)

var riskScalingCmd = &cobra.Command{
	Use:   "scaling",
	Short: "Project failure volume when adding monthly orders",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := scalingFilter.build()
		if err != nil {
			return err
		}

		env, err := initAnalysis(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		proj, err := env.Analyzer.ProjectScalingRisk(cmd.Context(), filter, scalingExtra, scalingMonths)
		if err != nil {
			return err
		}

		if scalingJSON {
			return json.NewEncoder(os.Stdout).Encode(proj)
		}
		fmt.Print(report.ScalingRisk(proj))
		return nil
	},
}

func init() {
	festivalFilter.register(riskFestivalCmd)
	riskFestivalCmd.Flags().BoolVar(&festivalJSON, "json", false, "emit JSON instead of narrative")

	scalingFilter.register(riskScalingCmd)
	riskScalingCmd.Flags().IntVar(&scalingExtra, "extra-orders", 20000, "additional monthly orders")
	riskScalingCmd.Flags().IntVar(&scalingMonths, "months", 1, "projection horizon in months")
	riskScalingCmd.Flags().BoolVar(&scalingJSON, "json", false, "emit JSON instead of narrative")

	riskCmd.AddCommand(riskFestivalCmd, riskScalingCmd)
	rootCmd.AddCommand(riskCmd)
}
