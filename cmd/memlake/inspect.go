package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/memlake/internal/memlake/memory"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print topic index statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), opts, func(e *memory.Engine) error {
				stats, err := e.Stats()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newRecallCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Show the topics most relevant to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withEngine(cmd.Context(), opts, func(e *memory.Engine) error {
				hits := e.Recall(query, limit)
				w := cmd.OutOrStdout()
				if len(hits) == 0 {
					fmt.Fprintln(w, "no matching memories")
					return nil
				}
				for _, h := range hits {
					fmt.Fprintf(w, "%.2f  ", h.Score)
					writeTopic(w, h.Position, h.Topic)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", memory.DefaultRecallLimit, "maximum number of memories")
	return cmd
}

func newTopicsCmd(opts *rootOptions) *cobra.Command {
	var (
		limit     int
		important bool
	)
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "List topics, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), opts, func(e *memory.Engine) error {
				var topics []memory.TopicEntry
				if important {
					topics = e.Important()
				} else {
					topics = e.Recent(limit)
				}
				w := cmd.OutOrStdout()
				if len(topics) == 0 {
					fmt.Fprintln(w, "no topics")
				}
				for _, t := range topics {
					writeTopic(w, -1, t)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", memory.DefaultRecentLimit, "maximum number of topics")
	cmd.Flags().BoolVar(&important, "important", false, "only list topics flagged important")
	return cmd
}

func newFirstCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "first",
		Short: "Show the oldest topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd.Context(), opts, func(e *memory.Engine) error {
				first, ok := e.FirstEntry()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "no topics")
					return nil
				}
				writeTopic(cmd.OutOrStdout(), 0, first)
				return nil
			})
		},
	}
}

func newMarkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <index>",
		Short: "Toggle the important flag of a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := strconv.Atoi(args[0])
			if err != nil || i < 0 {
				return fmt.Errorf("index must be a non-negative integer, got %q", args[0])
			}
			return withEngine(cmd.Context(), opts, func(e *memory.Engine) error {
				ok, err := e.ToggleImportant(cmd.Context(), i)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %d: %w", i, memory.ErrIndexOutOfRange)
				}
				t, _ := e.Topic(i)
				writeTopic(cmd.OutOrStdout(), i, t)
				return nil
			})
		},
	}
}

func writeTopic(w io.Writer, pos int, t memory.TopicEntry) {
	mark := " "
	if t.IsImportant {
		mark = "*"
	}
	if pos >= 0 {
		fmt.Fprintf(w, "#%d ", pos)
	}
	fmt.Fprintf(w, "%s [%s %s] %s (%d turns)", mark, t.Date, t.Timestamp, t.Topic, t.TurnCount)
	if len(t.Keywords) > 0 {
		fmt.Fprintf(w, " {%s}", strings.Join(t.Keywords, ", "))
	}
	fmt.Fprintln(w)
}
