package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teleprompt2api/api-proxy/internal/config"
	"github.com/teleprompt2api/api-proxy/internal/logger"
	"github.com/teleprompt2api/api-proxy/internal/routing"
	"github.com/teleprompt2api/api-proxy/internal/upstream"
	"go.uber.org/zap"
)

var probeModel string

var probeCmd = &cobra.Command{
	Use:   "probe <text>",
	Short: "Send one prompt to the upstream service and print the result",
	Long: `probe calls the optimization service directly, bypassing the HTTP
server, with debug logging on. Use it to check upstream reachability.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeModel, "model", "", "model name (default is models.default)")
}

func runProbe(cmd *cobra.Command, args []string) error {
	// the probe never serves /v1, so no API key is needed
	viper.Set("security.auth_disabled", true)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 开发模式日志（控制台输出，包含debug级别）
	log, err := logger.NewDevelopment()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	router, err := routing.New(cfg.Models)
	if err != nil {
		return err
	}

	endpoint := router.Resolve(probeModel)
	log.Info("Probing upstream",
		zap.String("base_url", cfg.Upstream.BaseURL),
		zap.String("model", router.Name(probeModel)),
		zap.String("endpoint", endpoint))

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Upstream.Timeout)
	defer cancel()

	client := upstream.NewClient(cfg.Upstream, log)
	text, err := client.Optimize(ctx, strings.Join(args, " "), endpoint)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
