package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"natrepl/internal/store"
)

var (
	historyLimit   int
	historySession string
)

// historyCmd prints the input journal.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently entered snippets and their outcomes",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	hs, err := store.Open(cfg.GetHistoryPath())
	if err != nil {
		return err
	}
	defer hs.Close()

	var entries []store.Entry
	if historySession != "" {
		entries, err = hs.Session(historySession)
	} else {
		entries, err = hs.Recent(historyLimit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history recorded.")
		return nil
	}
	for _, e := range entries {
		printEntry(out, e)
	}
	return nil
}

// entryIndent aligns continuation lines under the input column.
const entryIndent = 48

func printEntry(out io.Writer, e store.Entry) {
	id := e.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	lines := strings.Split(strings.TrimRight(e.Input, "\n"), "\n")
	fmt.Fprintf(out, "%s %-8s #%-3d %-13s %s\n",
		e.CreatedAt.Format("2006-01-02 15:04:05"), id, e.Seq, e.Outcome, lines[0])
	for _, l := range lines[1:] {
		fmt.Fprintf(out, "%*s%s\n", entryIndent, "", l)
	}
	if e.Message != "" && e.Outcome != store.OutcomeAccepted {
		first := strings.SplitN(e.Message, "\n", 2)[0]
		fmt.Fprintf(out, "%*s! %s\n", entryIndent, "", first)
	}
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Show every entry of one session")
}
