package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for fleetsync.

To load completions:

Bash:
  $ source <(fleetsync completion bash)
  # Or add to ~/.bashrc:
  $ echo 'source <(fleetsync completion bash)' >> ~/.bashrc

Zsh:
  $ source <(fleetsync completion zsh)
  # Or add to ~/.zshrc:
  $ echo 'source <(fleetsync completion zsh)' >> ~/.zshrc

Fish:
  $ fleetsync completion fish | source
  # Or add to config:
  $ fleetsync completion fish > ~/.config/fish/completions/fleetsync.fish

PowerShell:
  PS> fleetsync completion powershell | Out-String | Invoke-Expression
`,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	DisableFlagsInUseLine: true,
	Run: func(cmd *cobra.Command, args []string) {
		switch args[0] {
		case "bash":
			rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
