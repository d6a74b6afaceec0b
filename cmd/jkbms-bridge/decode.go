package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nerrad567/jkbms-bridge/internal/bridges/jkbms"
)

// maxLineSize fits a hex-encoded envelope with separators.
const maxLineSize = 64 * 1024

func newDecodeCmd() *cobra.Command {
	var (
		values       string
		registration string
		quiet        bool
	)

	cmd := &cobra.Command{
		Use:   "decode [file|-]",
		Short: "Decode hex frames offline and print what would be published",
		Long: `Read hex-encoded frames, one per line, and print the topic and payload of
every message the bridge would publish. Blank lines and lines starting
with # are skipped; spaces and colons between bytes are ignored.

Frames share one fresh registry, so a Settings frame must come before the
CellInfo frames of the same address.`,
		Example: `  # Decode a capture file
  jkbms-bridge decode capture.hex

  # Decode from stdin, payloads only for state topics
  grep -v '^$' capture.hex | jkbms-bridge decode - --quiet`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}

			topics := jkbms.DefaultTopics()
			topics.Values = values
			topics.Registration = registration

			return decodeFrames(in, cmd.OutOrStdout(), cmd.ErrOrStderr(), topics, quiet)
		},
	}

	cmd.Flags().StringVar(&values, "values", jkbms.DefaultValuesRoot, "Values topic root")
	cmd.Flags().StringVar(&registration, "registration", jkbms.DefaultRegistrationRoot, "Discovery topic root")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Skip discovery descriptors")
	return cmd
}

// decodeFrames decodes every line of in and writes the resulting messages
// to out. Per-line problems go to errOut and do not stop the run.
func decodeFrames(in io.Reader, out, errOut io.Writer, topics jkbms.Topics, quiet bool) error {
	decoder := jkbms.NewDecoder(nil)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		payload, err := parseHexLine(line)
		if err != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", lineNo, err)
			continue
		}

		res, err := decoder.Decode(payload)
		if err != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", lineNo, err)
			continue
		}
		if res.CellCountErr != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", lineNo, res.CellCountErr)
		}

		msgs, err := res.Messages(topics, false)
		if err != nil {
			fmt.Fprintf(errOut, "line %d: %v\n", lineNo, err)
			continue
		}
		for _, m := range msgs {
			if quiet && strings.HasPrefix(m.Topic, topics.Registration+"/") {
				continue
			}
			fmt.Fprintf(out, "%s\n%s\n\n", m.Topic, m.Payload)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading frames: %w", err)
	}
	return nil
}

// parseHexLine decodes "55AAEB90..." or "55 aa eb 90 ..." or "55:AA:...".
func parseHexLine(line string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(line)
	b, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
