package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/delivery-insights/internal/report"
)

var attributeJSON bool

var attributeCmd = &cobra.Command{
	Use:   "attribute <order-id>",
	Short: "Attribute a single order's failure or delay to ranked causes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initAnalysis(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		order := env.Index.Order(args[0])
		if order == nil {
			return eris.Errorf("order %s not found in batch", args[0])
		}

		att, err := env.Engine.Attribute(order)
		if err != nil {
			return eris.Wrap(err, "attribute order")
		}

		if attributeJSON {
			return json.NewEncoder(os.Stdout).Encode(att)
		}
		fmt.Print(report.Attribution(att))
		return nil
	},
}

func init() {
	attributeCmd.Flags().BoolVar(&attributeJSON, "json", false, "emit JSON instead of narrative")
	rootCmd.AddCommand(attributeCmd)
}
