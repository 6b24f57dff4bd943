package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "straja-dlp",
	Short: "Sensitive data detection and policy decisions for LLM traffic",
	Long: `straja-dlp detects personal data and secrets in chat prompts, model
responses and images, then applies per-type policies (log, mask or block)
under an observe, warn or enforce mode. Every decision is written to an
audit log that never contains the detected values.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "straja-dlp.yaml", "config file path")
}
