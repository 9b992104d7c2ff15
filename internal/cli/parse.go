package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/nlu"
	"github.com/teslashibe/go-voicenav/pkg/resolver"
)

var parseURL string

func init() {
	cmd := &cobra.Command{
		Use:   "parse <utterance>",
		Short: "Normalize and resolve an utterance without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runParse,
	}
	cmd.Flags().StringVar(&parseURL, "url", "", "Page URL passed to the fallback as context")

	RootCmd.AddCommand(cmd)
}

type parseResult struct {
	Normalized intent.NormalizedCommand `json:"normalized"`
	Resolved   intent.ResolvedIntent    `json:"resolved"`
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.L()
	ctx := cmd.Context()

	var cl closers
	defer cl.close()

	reg, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	n := nlu.New(reg.Schemas(), nlu.WithLogger(logger.With("component", "nlu")))

	opts, fb, err := resolverOptions(ctx, cfg, reg, logger, &cl)
	if err != nil {
		return err
	}
	r := resolver.New(n, fb, append(opts, resolver.WithLogger(logger.With("component", "resolver")))...)
	if fb != nil {
		if err := r.EnsureLoaded(ctx); err != nil {
			logger.Warn("fallback unavailable", "error", err)
		}
	}

	text := strings.Join(args, " ")
	res := parseResult{
		Normalized: n.Normalize(text),
		Resolved:   r.Resolve(ctx, text, resolver.PageContext{URL: parseURL}),
	}

	out := cmd.OutOrStdout()
	if formatFlag != "text" {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "intent:     %s\n", res.Resolved.Intent)
	fmt.Fprintf(out, "action:     %s\n", res.Resolved.Action)
	fmt.Fprintf(out, "slots:      %v\n", res.Resolved.Slots)
	fmt.Fprintf(out, "confidence: %.2f\n", res.Resolved.Confidence)
	fmt.Fprintf(out, "source:     %s\n", res.Resolved.Source)
	if res.Resolved.FallbackStatus != "" {
		fmt.Fprintf(out, "fallback:   %s\n", res.Resolved.FallbackStatus)
	}
	return nil
}
