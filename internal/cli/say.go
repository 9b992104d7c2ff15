package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/pipeline"
)

var sayInterim bool

func init() {
	cmd := &cobra.Command{
		Use:   "say <utterance>",
		Short: "Publish a transcript event to NATS, as a speech recognizer would",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSay,
	}
	cmd.Flags().BoolVar(&sayInterim, "interim", false, "Publish as an interim (non-final) result")

	RootCmd.AddCommand(cmd)
}

func runSay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is not configured")
	}

	src, err := pipeline.ConnectNATS(cmd.Context(), cfg.NATS.URL, nil, log.L())
	if err != nil {
		return err
	}
	defer src.Close()

	ev := intent.TranscriptEvent{
		Text:       strings.Join(args, " "),
		Confidence: 1,
		IsFinal:    !sayInterim,
	}
	if err := src.Publish(cfg.NATS.Subject, ev); err != nil {
		return err
	}
	if err := src.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", cfg.NATS.Subject)
	return nil
}
