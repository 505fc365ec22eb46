package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	var root = &cobra.Command{
		Use:          "partyplanner",
		Short:        "Plan and execute party planning requests with a language model",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.json)")

	root.AddCommand(serveCMD(&cfgPath), runCMD(&cfgPath), workerCMD(&cfgPath), migrateCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
