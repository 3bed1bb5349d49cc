package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/delivery-insights/internal/loader"
	"github.com/sells-group/delivery-insights/internal/model"
	"github.com/sells-group/delivery-insights/internal/report"
)

var (
	compareCityA    string
	compareCityB    string
	compareFrom     string
	compareTo       string
	compareJSONFlag bool
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare failure causes between two cities",
	RunE: func(cmd *cobra.Command, args []string) error {
		if compareCityA == "" || compareCityB == "" {
			return eris.New("both --city-a and --city-b are required")
		}

		base := filterFlags{from: compareFrom, to: compareTo}
		rangeFilter, err := base.build()
		if err != nil {
			return err
		}

		filterA := model.OrderFilter{City: loader.NormalizeLocationKey(compareCityA), From: rangeFilter.From, To: rangeFilter.To}
		filterB := model.OrderFilter{City: loader.NormalizeLocationKey(compareCityB), From: rangeFilter.From, To: rangeFilter.To}

		env, err := initAnalysis(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Analyzer.Compare(cmd.Context(), filterA, filterB)
		if err != nil {
			return err
		}

		if compareJSONFlag {
			return json.NewEncoder(os.Stdout).Encode(result)
		}
		fmt.Print(report.Comparison(result))
		return nil
	},
}

func init() {
	compareCmd.Flags().StringVar(&compareCityA, "city-a", "", "first city key")
	compareCmd.Flags().StringVar(&compareCityB, "city-b", "", "second city key")
	compareCmd.Flags().StringVar(&compareFrom, "from", "", "start date (YYYY-MM-DD, inclusive)")
	compareCmd.Flags().StringVar(&compareTo, "to", "", "end date (YYYY-MM-DD, inclusive)")
	compareCmd.Flags().BoolVar(&compareJSONFlag, "json", false, "emit JSON instead of narrative")
	rootCmd.AddCommand(compareCmd)
}
