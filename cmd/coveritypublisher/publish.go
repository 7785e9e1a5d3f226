package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"CoverityPublisher/internal/app"
)

func newPublishCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Fetch, filter and attach defects for the configured streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer application.Close()

			build := app.BuildInfo{
				ID:      v.GetString("build-id"),
				RootURL: v.GetString("root-url"),
				URL:     v.GetString("build-url"),
			}

			report, err := application.Publish(cmd.Context(), build, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if !report.Success() && len(report.Failed()) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no defects to report for build %s\n", report.BuildID)
			}
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d of %d streams could not be published", len(failed), len(report.Outcomes))
			}
			return nil
		},
	}

	cmd.Flags().String("root-url", "", "CI server root URL")
	cmd.Flags().String("build-url", "", "Build path relative to the root URL")
	_ = v.BindPFlag("root-url", cmd.Flags().Lookup("root-url"))
	_ = v.BindPFlag("build-url", cmd.Flags().Lookup("build-url"))

	return cmd
}
