package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "deployctl",
	Short: "deployctl is a command line tool for operating a deployplane controller",
	Long: `deployctl is the command-line interface for the deployplane deploy orchestrator.

The controller queues deploy jobs, hands them to runners under a lease and
places every app on a sticky runtime node. deployctl covers the operator
side of that: inspecting jobs, managing runtime nodes and moving apps.

Common workflows:

  Queue a deploy:
    deployctl jobs create --app app-123 --set repo=git@github.com:acme/web.git

  Watch the queue:
    deployctl jobs list --limit 20

  Take a node out of rotation and move its apps:
    deployctl nodes disable node-a
    deployctl drain --from 1 --to 2 --limit 100

  Remove every trace of a deleted app:
    deployctl purge app-123

Configuration:
  Set the endpoint and credentials via flags, environment variables or a config file:
    DEPLOYCTL_URL       Controller URL (default: http://localhost:6161)
    DEPLOYCTL_TOKEN     Admin token, sent as X-Admin-Token
    DEPLOYCTL_SECRET    Internal secret, needed for app operations
    DEPLOYCTL_OUTPUT    Output format: table, json or yaml`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".deployctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".deployctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "DEPLOYCTL_VARNAME"
	viper.SetEnvPrefix("DEPLOYCTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a controller client from the resolved configuration.
func newClient() *Client {
	return NewClient(viper.GetString("url"), viper.GetString("token"), viper.GetString("secret"))
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.deployctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "deployplane controller URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "Admin token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("secret", "", "Internal secret for app operations")
	viper.BindPFlag("secret", rootCmd.PersistentFlags().Lookup("secret"))

	rootCmd.PersistentFlags().StringP("output", "o", outputTable, "Output format: table, json or yaml")
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}
