package cmd

import (
	"os"

	"github.com/creativeprojects/imapwatch/cfg"
	"github.com/creativeprojects/imapwatch/term"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "imapwatch",
	Short: "Watch a mailbox and react to new messages as they arrive",
	Long:  "\nWatch an IMAP mailbox using the IDLE extension and run an action for every new message",
	RunE:  runWatch,
}

func init() {
	cobra.OnInitialize(initConfig, initLog)
	flag := rootCmd.PersistentFlags()
	flag.StringVarP(&global.configFile, "config", "c", "imapwatch.yaml", "configuration file")
	flag.BoolVarP(&global.quiet, "quiet", "q", false, "only display warnings and errors")
	flag.BoolVarP(&global.verbose, "verbose", "v", false, "display debugging information")
}

func initConfig() {
	var err error
	config, err = cfg.LoadFromFile(global.configFile)
	if err != nil {
		term.Errorf("cannot open or read configuration file: %s", err)
		os.Exit(1)
	}
}

func initLog() {
	switch {
	case global.verbose:
		term.SetLevel(term.LevelDebug)
	case global.quiet:
		term.SetLevel(term.LevelWarn)
	default:
		term.SetLevel(term.ParseLevel(config.LogLevel))
	}
}

func Execute(version, commit, date, builtBy string) {
	setApp(version, commit, date, builtBy)
	if err := rootCmd.Execute(); err != nil {
		term.Error(err)
		os.Exit(1)
	}
}
