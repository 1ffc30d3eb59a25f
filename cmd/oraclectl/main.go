package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/chainoracle/pkg/client"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	oracleURL string
	keyFile   string
	cfgFile   string
	insecure  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "oraclectl",
	Short: "Hash-chain oracle CLI",
	Long: `oraclectl drives a chain oracle: it generates publisher keys and hash
chains offline, and allocates, initialises and advances slots on an oracled
instance.

Typical publisher flow:

  oraclectl keygen
  oraclectl chain generate --length 1000 --out chain.yaml
  oraclectl allocate
  oraclectl init --chain chain.yaml
  oraclectl advance --chain chain.yaml`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(configDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("ORACLECTL")
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if oracleURL == "" {
			oracleURL = viper.GetString("oracle_url")
		}
		if oracleURL == "" {
			oracleURL = "http://localhost:8080"
		}
		if keyFile == "" {
			keyFile = viper.GetString("key_file")
		}
		if keyFile == "" {
			keyFile = filepath.Join(configDir(), "key.yaml")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.oraclectl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&oracleURL, "oracle", "", "oracled base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key", "", "publisher key file (default ~/.oraclectl/key.yaml)")
	rootCmd.PersistentFlags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification (development only)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the oraclectl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "oraclectl %s\n", version)
	},
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oraclectl"
	}
	return filepath.Join(home, ".oraclectl")
}

// newClient builds a client for --oracle, signing with the key file when
// withSigner is set.
func newClient(withSigner bool) (*client.Client, error) {
	var opts []client.Option
	if insecure {
		opts = append(opts, client.WithInsecureSkipVerify())
	}
	if withSigner {
		kf, err := loadKeyFile(keyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithSigner(kf.privateKey()))
	}
	return client.New(oracleURL, opts...)
}
