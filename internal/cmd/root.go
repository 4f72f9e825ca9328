package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teleprompt2api/api-proxy/internal/config"
)

var (
	Version   string
	BuildTime string
	cfgFile   string
)

var rootCmd = &cobra.Command{
	Use:   "teleprompt2api",
	Short: "OpenAI-compatible proxy for a prompt-optimization service",
	Long: `teleprompt2api exposes a prompt-optimization web service as an
OpenAI-compatible chat-completions API, including pseudo-streamed responses.`,
	SilenceUsage: true,
	RunE:         runServe, // 默认启动服务器
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	rootCmd.Version = fmt.Sprintf("%s (built %s)", Version, BuildTime)
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局标志, shared by the root command and serve
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.String("log-file", "logs/teleprompt2api.log", "log file path")
	flags.String("host", "0.0.0.0", "server host")
	flags.Int("port", 8045, "server port")
	flags.String("mode", "release", "server mode (debug/release/test)")
	flags.String("upstream", "", "upstream service base URL")

	// 绑定到viper
	viper.BindPFlag("logging.output", flags.Lookup("log-file"))
	viper.BindPFlag("server.host", flags.Lookup("host"))
	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("server.mode", flags.Lookup("mode"))
	viper.BindPFlag("upstream.base_url", flags.Lookup("upstream"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./data")
		viper.AddConfigPath("$HOME/.teleprompt2api")
	}

	// a local .env fills in variables that are not already exported
	_ = godotenv.Load()
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		// LoadOrCreate writes the file later; only pin where it goes
		if cfgFile == "" {
			viper.SetConfigFile("./config.yaml")
		}
	} else {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}
