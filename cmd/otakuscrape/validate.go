package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/use-agent/otakuscrape/catalog"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Check site and schema files without starting the server",
	Long: "Loads the built-in sites plus the *.yaml files in dir (default: " +
		"OTAKU_CATALOG_DIR) and reports every problem found.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := catalogDir()
		if len(args) == 1 {
			dir = args[0]
		}

		c, err := catalog.Load(dir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, s := range c.Sites() {
			fmt.Fprintf(out, "%-12s %-8s %2d endpoints  %s\n", s.Name, s.Category, len(s.Endpoints), s.BaseURL)
		}
		fmt.Fprintf(out, "ok: %d sites, %d schemas\n", len(c.Sites()), c.SchemaCount())
		return nil
	},
}
