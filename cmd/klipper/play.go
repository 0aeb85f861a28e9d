package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/satindergrewal/klipper/internal/stream"
	"github.com/spf13/cobra"
)

var (
	playProject string
	playFrom    float64
)

// drainDelay lets the last frames leave the device before it is closed.
const drainDelay = 300 * time.Millisecond

var playCmd = &cobra.Command{
	Use:   "play [files...]",
	Short: "Play an arrangement through the speakers and exit at the end",
	RunE: func(cmd *cobra.Command, args []string) error {
		if playProject == "" && len(args) == 0 {
			return errors.New("nothing to play: give files or --project")
		}
		ctx := cmd.Context()
		e := newEngine(ctx)

		sp, err := stream.NewSpeaker(e.bus, logs.NewLogger("speaker"))
		if err != nil {
			return err
		}
		defer sp.Close()

		if err := e.open(ctx, playProject, args); err != nil {
			return err
		}
		e.start(ctx)
		sp.Start()

		if err := e.sess.Seek(playFrom); err != nil {
			return err
		}
		if err := e.sess.Play(); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.sess.Stop()
				fmt.Fprintln(out)
				return nil
			case <-ticker.C:
			}
			st := e.sess.Status()
			fmt.Fprintf(out, "\r%6.1fs / %.1fs", st.Position, st.Duration)
			if !st.Playing {
				fmt.Fprintln(out)
				time.Sleep(drainDelay)
				return nil
			}
		}
	},
}

func init() {
	f := playCmd.Flags()
	f.StringVarP(&playProject, "project", "p", "", "project file to play")
	f.Float64Var(&playFrom, "from", 0, "start position in seconds")
}
