package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/trustgate/internal/config"
	"github.com/ppiankov/trustgate/internal/policy"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write starter config and policy files",
	Long:  "Creates ~/.trustgate/config.yaml and ~/.trustgate/policy.yaml with\ncommented defaults. Existing files are left alone unless --force.",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".trustgate")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	files := map[string]string{
		filepath.Join(dir, "config.yaml"): config.DefaultYAML(),
		filepath.Join(dir, "policy.yaml"): policy.DefaultConfigYAML(),
	}

	for path, content := range files {
		if _, err := os.Stat(path); err == nil && !initForce {
			fmt.Printf("exists, skipping: %s\n", path)
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("wrote %s\n", path)
	}
	return nil
}
