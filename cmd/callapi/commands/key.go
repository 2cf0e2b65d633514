package commands

import (
	"github.com/fivetwenty-io/callapi/internal/constants"
	"github.com/fivetwenty-io/callapi/pkg/callapi"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type keyView struct {
	Key  string `json:"key"  yaml:"key"`
	Hash string `json:"hash" yaml:"hash"`
}

// NewKeyCommand creates the key command.
func NewKeyCommand() *cobra.Command {
	var (
		params []string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "key ENDPOINT",
		Short: "Print the cache key derived for a request",
		Long:  "Print the canonical query key and its hash for an endpoint and its params or body.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return constants.ErrEndpointRequired
			}

			var inputs any

			if data != "" {
				body, err := parseBody(data)
				if err != nil {
					return err
				}

				inputs = body
			} else {
				p, err := parseParams(params)
				if err != nil {
					return err
				}

				inputs = p
			}

			key := callapi.DeriveKey(args[0], inputs)
			view := keyView{Key: key.String(), Hash: key.Hash()}

			return writeOutput(cmd.OutOrStdout(), viper.GetString("output"), view, func(t *tablewriter.Table) {
				t.Header("Property", "Value")
				_ = t.Append("Key", view.Key)
				_ = t.Append("Hash", view.Hash)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "query parameter key=value (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body, or @file, used instead of params")

	return cmd
}
