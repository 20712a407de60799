package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ChartSnap/internal/clinical"
	"github.com/dharsanguruparan/ChartSnap/internal/model"
)

func newCapabilitiesCmd() *cobra.Command {
	var opts clinical.HTTPOptions
	var file string
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Fetch and print the clinical system's capability snapshot",
		Long: `Without --base-url the in-memory clinical system is used, serving --file
(a YAML fixture) or the built-in defaults.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clinical.Open(opts, file)
			if err != nil {
				return err
			}
			caps, err := client.Capabilities(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCapabilities(*caps))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "Clinical system base URL")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Bearer token for the clinical system")
	cmd.Flags().StringVar(&file, "file", "", "YAML capability fixture for the in-memory system")
	return cmd
}

func renderCapabilities(caps model.Capabilities) string {
	features := [][]string{
		{"image attachment", yesNo(caps.Features.ImageAttachment)},
		{"mobile handoff", yesNo(caps.Features.MobileHandoff)},
		{"inbox routing", yesNo(caps.Features.InboxRouting)},
		{"task routing", yesNo(caps.Features.TaskRouting)},
	}
	limits := [][]string{
		{"max file size", bytesOrUnlimited(caps.Limits.MaxFileBytes)},
		{"max files per batch", countOrUnlimited(caps.Limits.MaxFilesPerBatch)},
		{"max per encounter", bytesOrUnlimited(caps.Limits.MaxEncounterBytes)},
		{"accepted types", strings.Join(caps.Limits.AcceptedTypes, ", ")},
	}
	var vocab [][]string
	for _, f := range model.TagFields {
		for _, c := range caps.Options(f) {
			vocab = append(vocab, []string{string(f), c.Code, c.Display, c.System})
		}
	}
	var people [][]string
	for _, r := range caps.InboxRecipients {
		people = append(people, []string{"inbox", r.ID, r.Name})
	}
	for _, r := range caps.TaskAssignees {
		people = append(people, []string{"task", r.ID, r.Name})
	}

	var b strings.Builder
	b.WriteString(renderTable([]string{"Feature", "Enabled"}, features, nil))
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"Limit", "Value"}, limits, []columnAlignment{alignLeft, alignRight}))
	b.WriteString("\n")
	b.WriteString(renderTable([]string{"Field", "Code", "Display", "System"}, vocab, nil))
	if len(people) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Routing", "ID", "Name"}, people, nil))
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func bytesOrUnlimited(n int64) string {
	if n <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(n))
}

func countOrUnlimited(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}
