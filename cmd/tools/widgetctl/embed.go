package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/troikatech/chatwidget/internal/model/widget"
	"github.com/troikatech/chatwidget/internal/service/embed"
)

func newDefaultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the default widget configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(widget.Default())
		},
	}
}

func newEmbedCommand() *cobra.Command {
	var (
		projectID  string
		formatName string
		configPath string
		baseURL    string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Generate the embed snippet for a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := widget.Default()
			if configPath != "" {
				patch, err := readPatch(configPath)
				if err != nil {
					return err
				}
				cfg = cfg.Apply(patch)
			}

			if baseURL == "" {
				svcCfg, err := loadConfig()
				if err != nil {
					return err
				}
				baseURL = svcCfg.Embed.AssetBaseURL
			}

			out := cmd.OutOrStdout()
			if all {
				for _, format := range embed.Formats() {
					artifact, err := embed.Compile(format, cfg, projectID, baseURL)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "==> %s\n%s\n\n", format, artifact)
				}
				return nil
			}

			format, err := embed.ParseFormat(formatName)
			if err != nil {
				return err
			}
			artifact, err := embed.Compile(format, cfg, projectID, baseURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, artifact)
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "project id")
	cmd.Flags().StringVarP(&formatName, "format", "f", string(embed.FormatScript), "script, iframe or wordpress")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML file with widget config overrides")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "site serving the widget assets (default from EMBED_ASSET_BASE_URL)")
	cmd.Flags().BoolVar(&all, "all", false, "print every format")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func readPatch(path string) (widget.Patch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return widget.Patch{}, errors.Wrap(err, "read widget config")
	}
	var patch widget.Patch
	if err := yaml.Unmarshal(data, &patch); err != nil {
		return widget.Patch{}, errors.Wrapf(err, "parse widget config %s", path)
	}
	return patch, nil
}
