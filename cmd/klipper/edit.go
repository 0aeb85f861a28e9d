package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/satindergrewal/klipper/internal/stream"
	"github.com/satindergrewal/klipper/internal/tui"
	"github.com/spf13/cobra"
)

var (
	editProject string
	editOut     string
	editLogFile string
	editSpeaker bool
)

var editCmd = &cobra.Command{
	Use:   "edit [files...]",
	Short: "Open the timeline editor",
	Long: "Open the full-screen timeline editor. Files given on the command line are\n" +
		"imported in order at the end of the arrangement.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(os.Stdin.Fd()) {
			return errors.New("edit needs an interactive terminal; use serve or export instead")
		}

		// The editor owns the screen, so logs go to a file or nowhere.
		logs.Writer = io.Discard
		if editLogFile != "" {
			f, err := os.OpenFile(editLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return err
			}
			defer f.Close()
			logs.Writer = f
		}

		ctx := cmd.Context()
		e := newEngine(ctx)
		e.start(ctx)

		if editSpeaker {
			sp, err := stream.NewSpeaker(e.bus, logs.NewLogger("speaker"))
			if err != nil {
				e.log.Warnf("no audio output: %v", err)
			} else {
				sp.Start()
				defer sp.Close()
			}
		}

		if err := e.open(ctx, editProject, args); err != nil {
			return err
		}
		e.watch(ctx)

		title := "klipper"
		if editProject != "" {
			title += " · " + filepath.Base(editProject)
		}
		return tui.Run(ctx, e.sess, tui.Options{Title: title, ExportPath: exportPath(editOut, editProject)})
	},
}

func init() {
	f := editCmd.Flags()
	f.StringVarP(&editProject, "project", "p", "", "project file to open, created on first save")
	f.StringVarP(&editOut, "out", "o", "", "export target, format taken from its extension")
	f.StringVar(&editLogFile, "log-file", "", "append logs to this file while the editor runs")
	f.BoolVar(&editSpeaker, "speaker", true, "play through the default audio device")
}

// exportPath picks the editor's export target: out when given, else the
// project name with the configured format, else klipper.<format>.
func exportPath(out, projectPath string) string {
	if out != "" {
		return out
	}
	base := "klipper"
	if projectPath != "" {
		base = strings.TrimSuffix(projectPath, filepath.Ext(projectPath))
	}
	return base + "." + cfg.ExportFormat
}
