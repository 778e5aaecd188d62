package commands

import (
	"fmt"
	"strings"
	"time"

	"slobstore/pkg/types"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the current state of a wavelet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appReady(); err != nil {
				return err
			}
			id := types.SlobID(args[0])
			w, version, err := SLOB.Conv.Wavelets.Wavelet(cmd.Context(), id)
			if err != nil {
				return err
			}
			if version == 0 {
				return fmt.Errorf("wavelet %s does not exist", id)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:           %s\n", id)
			fmt.Fprintf(out, "version:      %d\n", version)
			fmt.Fprintf(out, "title:        %s\n", w.Title)
			fmt.Fprintf(out, "participants: %s\n", strings.Join(w.Participants, ", "))
			fmt.Fprintf(out, "\n%s\n", w.Body)
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show the mutation log of a wavelet, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appReady(); err != nil {
				return err
			}
			records, err := SLOB.Conv.Data.History(cmd.Context(), types.SlobID(args[0]), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No mutations yet.")
				return nil
			}

			// 颜色代码 (ANSI Escape Codes)
			const (
				colorYellow = "\033[33m"
				colorReset  = "\033[0m"
			)
			out := cmd.OutOrStdout()
			for _, r := range records {
				fmt.Fprintf(out, "%sversion %d%s\n", colorYellow, r.Version, colorReset)
				fmt.Fprintf(out, "Author: %s\n", r.Author)
				fmt.Fprintf(out, "Date:   %s\n", r.CreatedAt.Format(time.RFC1123))
				fmt.Fprintf(out, "Meta:   %s\n\n", string(r.Meta))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of entries (0 = all)")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		participant string
		word        string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find wavelets by participant or word",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appReady(); err != nil {
				return err
			}
			if (participant == "") == (word == "") {
				return fmt.Errorf("pass exactly one of --participant or --word")
			}

			var (
				ids []types.SlobID
				err error
			)
			if participant != "" {
				ids, err = SLOB.Conv.Index.FindByParticipant(cmd.Context(), participant, limit)
			} else {
				ids, err = SLOB.Conv.Index.FindByWord(cmd.Context(), word, limit)
			}
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&participant, "participant", "", "participant address")
	cmd.Flags().StringVar(&word, "word", "", "word in the title or body")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of results (0 = all)")
	return cmd
}
