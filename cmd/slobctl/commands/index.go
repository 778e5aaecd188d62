package commands

import (
	"fmt"
	"io"

	"slobstore/pkg/index"
	"slobstore/pkg/index/s3"
	"slobstore/pkg/index/stream"
	"slobstore/pkg/types"

	"github.com/spf13/cobra"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect the external index",
	}

	var latest int64
	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Print the external index document of a wavelet (file, memory, s3) or the latest stream entries (redis)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appReady(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch sink := SLOB.Sink.(type) {
			case nil:
				return fmt.Errorf("no external index configured (index.type=none)")

			case *stream.Sink:
				docs, err := sink.Latest(cmd.Context(), latest)
				if err != nil {
					return err
				}
				for _, d := range docs {
					printDocument(out, d)
				}
				return nil

			case *s3.Sink:
				if len(args) == 0 {
					return fmt.Errorf("id is required for the s3 index")
				}
				d, err := sink.Get(cmd.Context(), types.SlobID(args[0]))
				if err != nil {
					return err
				}
				printDocument(out, d)
				return nil

			case interface {
				Get(types.SlobID) (index.Document, bool)
			}:
				if len(args) == 0 {
					return fmt.Errorf("id is required")
				}
				d, ok := sink.Get(types.SlobID(args[0]))
				if !ok {
					return fmt.Errorf("no index document for %s", args[0])
				}
				printDocument(out, d)
				return nil

			default:
				return fmt.Errorf("index type %T cannot be inspected", sink)
			}
		},
	}
	show.Flags().Int64VarP(&latest, "latest", "n", 10, "number of stream entries to print (redis)")

	cmd.AddCommand(show)
	return cmd
}

func printDocument(out io.Writer, d index.Document) {
	fmt.Fprintf(out, "%s@%d (%s)\n%s\n\n", d.ID, d.Version, d.UpdatedAt.Format("2006-01-02 15:04:05"), d.Data)
}
