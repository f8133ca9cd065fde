package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pavelpascari/listsim/pkg/contract"
)

func newSchemaCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the OpenAPI description of the listing contract",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := contract.Generate()
			if err != nil {
				return fmt.Errorf("failed to generate contract: %w", err)
			}

			var data []byte
			switch format {
			case "yaml":
				data, err = contract.GenerateYAML(doc)
			case "json":
				data, err = contract.GenerateJSON(doc)
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")

	return cmd
}
