package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	exportProject string
	exportOut     string
	exportFormat  string
	exportVolume  float64
)

var exportCmd = &cobra.Command{
	Use:   "export -o <file> [files...]",
	Short: "Render an arrangement to an audio file",
	Long: "Render the project and/or the given files, laid end to end, to one audio\n" +
		"file. wav, pcm and opus are encoded natively; mp3, aac, m4a and flac go\n" +
		"through ffmpeg.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportProject == "" && len(args) == 0 {
			return errors.New("nothing to export: give files or --project")
		}
		ctx := cmd.Context()
		e := newEngine(ctx)
		if err := e.open(ctx, exportProject, args); err != nil {
			return err
		}
		if cmd.Flags().Changed("volume") {
			e.sess.SetMasterVolume(exportVolume)
		}

		if exportFormat != "" {
			cfg.ExportFormat = exportFormat
		}
		out := exportOut
		if out == "" {
			out = exportPath("", exportProject)
		}
		if err := e.sess.ExportFile(ctx, out, exportFormat); err != nil {
			return fmt.Errorf("export %s: %w", out, err)
		}
		st := e.sess.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d clips, %.2fs\n", out, len(st.Clips), st.Duration)
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportProject, "project", "p", "", "project file to export")
	f.StringVarP(&exportOut, "out", "o", "", "output file (default <project>.<format> or klipper.<format>)")
	f.StringVarP(&exportFormat, "format", "f", "", "output format, taken from the file extension when empty")
	f.Float64Var(&exportVolume, "volume", 1, "master volume 0-1, overriding the project")
}
