package main

import (
	"github.com/spf13/cobra"

	"github.com/WessleyAI/interview-insights/engine/guide"
	"github.com/WessleyAI/interview-insights/pkg/config"
)

func newParseGuideCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-guide <file>",
		Short: "Extract themed questions from an interview guide",
		Long: `Extract themed questions from an interview guide.

A .json file holds either a string or an array of {theme, question}
objects; any other file is read as free text. Use - for stdin.

Example:
  insights parse-guide guide.md --human`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			raw, err := loadGuide(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			qs, err := guide.NewParser(cfg.GuideOptions()).Parse(raw)
			if err != nil {
				return err
			}
			if root.human {
				printQuestions(cmd.OutOrStdout(), qs)
				return nil
			}
			return outputJSON(cmd.OutOrStdout(), qs)
		},
	}
}
