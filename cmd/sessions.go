package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sonifyv1/posebridge/internal/store"
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:          "sessions",
	Short:        "List recorded streaming sessions",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer db.Close(cmd.Context())

		sessions, err := db.ListSessions(cmd.Context(), sessionsLimit)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found in database.")
			return nil
		}
		printSessions(os.Stdout, sessions)
		return nil
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Number of sessions to show (0 for all)")
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, sessions []store.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSOURCE\tDESTINATION\tSTARTED\tDURATION\tFRAMES\tSENT\tERRORS\tEXIT")
	fmt.Fprintln(w, "--\t----\t------\t-----------\t-------\t--------\t------\t----\t------\t----")

	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID.String()[:8], s.Mode, s.Source, s.Destination,
			s.StartedAt.Local().Format("2006-01-02 15:04"), duration,
			s.Stats.Frames, s.Stats.RecordsSent, s.Stats.SendErrors+s.Stats.DetectorErrors, s.Stats.ExitReason)
	}
	w.Flush()
}
