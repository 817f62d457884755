package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the urmindr application
var rootCmd = &cobra.Command{
	Use:   "urmindr",
	Short: "Duck-persona assistant backend with calendar tools",
	Long: `urmindr answers prompts through a language model that speaks as a duck
and can create or list Google Calendar events on the user's behalf.

It can run as:
  - An HTTP API for the web frontend (serve)
  - An MCP (Model Context Protocol) server over stdio (mcp)`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "urmindr version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMCPCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
