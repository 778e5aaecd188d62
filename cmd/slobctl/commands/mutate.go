package commands

import (
	"errors"
	"fmt"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"
	"slobstore/pkg/wave"

	"github.com/spf13/cobra"
)

func newNewCmd() *cobra.Command {
	var (
		id    string
		title string
		add   []string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a wavelet with the caller as its first participant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appReady(); err != nil {
				return err
			}
			who, err := caller()
			if err != nil {
				return err
			}

			slobID := types.SlobID(id)
			if slobID.IsZero() {
				slobID = types.NewSlobID()
			}

			ops := []wave.Op{wave.AddParticipant(who.ID)}
			for _, p := range add {
				ops = append(ops, wave.AddParticipant(p))
			}
			if title != "" {
				ops = append(ops, wave.SetTitle(title))
			}

			res, err := SLOB.Conv.Mutate(cmd.Context(), who, slobID, ops...)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s@%d\n", slobID, res.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "wavelet id (default: random uuid)")
	cmd.Flags().StringVar(&title, "title", "", "initial title")
	cmd.Flags().StringSliceVar(&add, "add", nil, "additional participants")
	return cmd
}

func newMutateCmd() *cobra.Command {
	var (
		add    []string
		remove []string
		title  string
		text   string
	)
	cmd := &cobra.Command{
		Use:   "mutate <id>",
		Short: "Apply a delta to a wavelet",
		Long: `Apply a delta to a wavelet. Operations are applied in this order:
--add, --remove, --title, --append.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appReady(); err != nil {
				return err
			}
			who, err := caller()
			if err != nil {
				return err
			}

			var ops []wave.Op
			for _, p := range add {
				ops = append(ops, wave.AddParticipant(p))
			}
			for _, p := range remove {
				ops = append(ops, wave.RemoveParticipant(p))
			}
			if cmd.Flags().Changed("title") {
				ops = append(ops, wave.SetTitle(title))
			}
			if text != "" {
				ops = append(ops, wave.AppendText(text))
			}
			if len(ops) == 0 {
				return fmt.Errorf("nothing to do: pass at least one of --add, --remove, --title, --append")
			}

			id := types.SlobID(args[0])
			res, err := SLOB.Conv.Mutate(cmd.Context(), who, id, ops...)
			if err != nil {
				return describe(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s@%d\n", id, res.Version)
			if res.HasIndexData() {
				switch {
				case SLOB.Sink == nil:
					fmt.Fprintln(out, "index payload produced (no external index configured)")
				case SLOB.TakeIndexFailure(id, res.Version):
					fmt.Fprintln(out, "index update failed, external index is behind (see log)")
				default:
					fmt.Fprintln(out, "index updated")
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&add, "add", nil, "participants to add")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "participants to remove")
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&text, "append", "", "text to append to the body")
	return cmd
}

// describe 把访问拒绝转换成更友好的提示
func describe(err error) error {
	var denied *slob.AccessDeniedError
	if errors.As(err, &denied) {
		return fmt.Errorf("permission denied: %s is not a participant of %s", denied.Caller, denied.ID)
	}
	return err
}
