package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/postyard/internal/config"
	"github.com/zulandar/postyard/internal/postfile"
)

func newInitCmd() *cobra.Command {
	var (
		configPath string
		csvPath    string
		imagesDir  string
		force      bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config, input CSV and images directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, configPath, csvPath, imagesDir, force)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "postyard.yaml", "path to write the config file")
	cmd.Flags().StringVar(&csvPath, "csv", "posts.csv", "path to write the input CSV")
	cmd.Flags().StringVar(&imagesDir, "images", "images", "images directory to create")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func runInit(cmd *cobra.Command, configPath, csvPath, imagesDir string, force bool) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "Config %s exists, leaving it alone\n", configPath)
	} else {
		if err := os.WriteFile(configPath, []byte(config.Template), 0o600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Wrote %s\n", configPath)
	}

	if _, err := os.Stat(csvPath); err == nil && !force {
		fmt.Fprintf(out, "Input %s exists, leaving it alone\n", csvPath)
	} else {
		if err := postfile.WriteTemplate(csvPath, force); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", csvPath)
	}

	if err := os.MkdirAll(imagesDir, 0o755); err != nil {
		return fmt.Errorf("create images directory: %w", err)
	}
	fmt.Fprintf(out, "Images go in %s/\n", imagesDir)
	return nil
}
