package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teleprompt2api/api-proxy/internal/config"
	"github.com/teleprompt2api/api-proxy/internal/routing"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Print the model routing table",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.ModelsConfig
		if err := viper.UnmarshalKey("models", &cfg); err != nil {
			return fmt.Errorf("failed to read models config: %w", err)
		}
		return printModels(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

// printModels writes one line per model; the default is starred.
func printModels(out io.Writer, cfg config.ModelsConfig) error {
	if len(cfg.Routes) == 0 {
		cfg.Routes = config.DefaultRoutes
	}
	if cfg.Default == "" {
		cfg.Default = config.DefaultModel
	}

	router, err := routing.New(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tUPSTREAM PATH\tDEFAULT")
	for _, name := range router.Names() {
		mark := ""
		if name == router.Default() {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, router.Resolve(name), mark)
	}
	return w.Flush()
}
