package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vedran77/pulsesync/internal/config"
	"github.com/vedran77/pulsesync/internal/database"
	"github.com/vedran77/pulsesync/internal/domain"
	postgresrepo "github.com/vedran77/pulsesync/internal/repository/postgres"
)

var historyCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Print archived messages of a conversation",
	Long: `Reads the message archive (ARCHIVE_DSN) without contacting the chat
service. --as names the account the archive was written for, in the same
key form as conversations (user-1, admin-7).`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().String("as", "", "archive owner key (required)")
	historyCmd.Flags().Int("limit", 50, "number of messages")
	historyCmd.Flags().String("before", "", "only messages older than this RFC3339 time")
	historyCmd.MarkFlagRequired("as")
}

func runHistory(cmd *cobra.Command, args []string) error {
	key, err := domain.ParseConversationKey(args[0])
	if err != nil {
		return err
	}
	asFlag, _ := cmd.Flags().GetString("as")
	owner, err := domain.ParseConversationKey(asFlag)
	if err != nil {
		return fmt.Errorf("--as: %w", err)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return errors.New("--limit must be positive")
	}

	var before *time.Time
	if raw, _ := cmd.Flags().GetString("before"); raw != "" {
		t, err := domain.ParseTimestamp(raw)
		if err != nil {
			return fmt.Errorf("--before: %w", err)
		}
		before = &t
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.ArchiveDSN == "" {
		return errors.New("ARCHIVE_DSN is not set")
	}

	ctx := cmd.Context()
	pool, err := database.Connect(ctx, cfg.ArchiveDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	repo := postgresrepo.NewArchiveRepo(pool)
	msgs, err := repo.ListRecent(ctx, owner.String(), key, before, limit)
	if err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}
	if len(msgs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no archived messages for %s\n", key)
		return nil
	}
	for i := range msgs {
		fmt.Fprintln(cmd.OutOrStdout(), formatMessage(&msgs[i]))
	}
	return nil
}
