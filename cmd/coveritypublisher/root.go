package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"CoverityPublisher/internal/app"
	"CoverityPublisher/internal/config"
	"CoverityPublisher/internal/logging"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "coveritypublisher",
		Short:         "Publish Coverity Connect defects to a CI build",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to the publisher YAML config (default $COVERITY_PUBLISHER_CONFIG)")
	root.PersistentFlags().String("build-id", "", "Build identifier the defect record is attached to")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("build-id", root.PersistentFlags().Lookup("build-id"))

	// COVERITY_BUILD_ID, COVERITY_ROOT_URL, ...
	v.SetEnvPrefix("COVERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newPublishCmd(v))
	root.AddCommand(newReportCmd(v))
	return root
}

func openApp(ctx context.Context, v *viper.Viper) (*app.Application, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logging.New(cfg.Logging.Level), app.Deps{})
}
