package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"CoverityPublisher/internal/domain"
)

func newReportCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print the defect record attached to a build",
		RunE: func(cmd *cobra.Command, args []string) error {
			buildID := v.GetString("build-id")
			if buildID == "" {
				return errors.New("please provide --build-id")
			}

			application, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer application.Close()

			action, err := application.Load(cmd.Context(), buildID)
			if err != nil {
				return err
			}
			renderAction(cmd.OutOrStdout(), action)
			return nil
		},
	}
}

var impactColors = map[string]*color.Color{
	"High":   color.New(color.FgRed, color.Bold),
	"Medium": color.New(color.FgYellow),
	"Low":    color.New(color.FgCyan),
}

func renderAction(out io.Writer, action domain.BuildAction) {
	fmt.Fprintf(out, "Build %s: %d defects (attached %s)\n",
		action.BuildID, action.Total(), action.AttachedAt.Format("2006-01-02 15:04:05 MST"))

	for _, s := range action.Streams {
		fmt.Fprintf(out, "\n%s (%s/%s on %s): %d\n",
			s.Stream.DisplayName(), s.Stream.Project, s.Stream.Name, s.Stream.Instance, len(s.Defects))
		if len(s.Defects) == 0 {
			continue
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CID\tIMPACT\tCHECKER\tACTION\tLOCATION")
		for _, d := range s.Defects {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", d.CID, impact(d.Impact), d.Checker, d.Action, location(d))
		}
		_ = tw.Flush()
	}
}

func impact(value string) string {
	if c, ok := impactColors[value]; ok {
		return c.Sprint(value)
	}
	return value
}

func location(d domain.DefectSummary) string {
	loc := d.File
	if d.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, d.Line)
	}
	if d.Function != "" {
		loc = fmt.Sprintf("%s (%s)", loc, d.Function)
	}
	return loc
}
