package cmd

import (
	"fmt"

	"github.com/creativeprojects/imapwatch/store"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

const dateFormat = "2006-01-02 15:04:05 MST"

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Display the recorded watcher events",
	RunE:  runHistory,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum number of events to display")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if config.HistoryFile == "" {
		return fmt.Errorf("no history file in the configuration")
	}
	boltStore, err := store.NewBoltStore(config.HistoryFile)
	if err != nil {
		return fmt.Errorf("cannot open history store: %w", err)
	}
	defer boltStore.Close()

	events, err := boltStore.Events(historyLimit)
	if err != nil {
		return fmt.Errorf("cannot load events: %w", err)
	}
	displayEvents(events)
	return nil
}

func displayEvents(events []store.Event) {
	table := pterm.DefaultTable.WithBoxed(true).WithHasHeader().WithData(pterm.TableData{
		{"Date", "Event", "Mailbox", "Detail"},
	})
	for _, event := range events {
		table.Data = append(table.Data, []string{
			event.Date.Format(dateFormat),
			event.Type,
			event.Mailbox,
			event.Detail,
		})
	}
	_ = table.Render()
}
