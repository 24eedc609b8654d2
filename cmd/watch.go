package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creativeprojects/imapwatch/api"
	"github.com/creativeprojects/imapwatch/mailbox"
	"github.com/creativeprojects/imapwatch/remote"
	"github.com/creativeprojects/imapwatch/store"
	"github.com/creativeprojects/imapwatch/term"
	"github.com/creativeprojects/imapwatch/watch"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to the server and watch the mailbox (default command)",
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// verify interface
var _ watch.Transport = &remote.Imap{}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return err
	}

	logger := &term.Log{}
	dial := func() (watch.Transport, error) {
		return remote.NewImap(remote.Config{
			ServerURL: config.ServerURL,
			// keep the connection deadline above the idle timeout
			ConnectionTimeout:   config.IdleTimeout() + 10*time.Second,
			NoTLS:               config.NoTLS,
			SkipTLSVerification: config.SkipTLSVerification,
			DebugLogger:         logger,
		})
	}

	var recorder watch.Recorder
	var history api.HistorySource
	if config.HistoryFile != "" {
		boltStore, err := store.NewBoltStore(config.HistoryFile)
		if err != nil {
			return fmt.Errorf("cannot open history store: %w", err)
		}
		defer boltStore.Close()
		recorder = boltStore
		history = boltStore
	}

	watcher, err := watch.NewWatcher(watch.Config{
		Dial:          dial,
		Username:      config.Username,
		Password:      config.Password,
		Mailbox:       config.Mailbox,
		IdleTimeout:   config.IdleTimeout(),
		RetryInterval: config.RetryDelay(),
		Handler:       printMessage,
		Logger:        logger,
		Recorder:      recorder,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: api.NewServer(watcher, history, logger).Router(),
	}
	go func() {
		term.Infof("control API listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			term.Errorf("control API stopped: %s", err)
		}
	}()

	// the watcher never installs signal handlers itself: that capability
	// belongs to the process entry point
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		term.Info("shutting down...")
		watcher.Stop()
	}()

	term.Infof("watching mailbox %q on %s", watcher.Mailbox(), config.ServerURL)
	err = watcher.Run(cmd.Context())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	return err
}

// printMessage is the default message handler, only displaying the new
// message on the terminal.
func printMessage(message *mailbox.Message) {
	if message == mailbox.Stopped {
		term.Info("receiver stopped")
		return
	}
	term.Infof("New message %d", message.SeqNum)
	term.Infof("  Subject: %s", message.Subject)
	term.Infof("  Sender: %s", message.Sender)
}
