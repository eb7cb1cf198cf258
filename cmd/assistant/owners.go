package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san4s204/AI-ASSISTANT-main/internal/config"
	"github.com/san4s204/AI-ASSISTANT-main/internal/storage"
	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

func buildOwnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owners",
		Short: "Manage registered bot owners",
	}
	cmd.AddCommand(buildOwnersAddCmd(), buildOwnersListCmd(), buildOwnersRemoveCmd())
	return cmd
}

func openOwners(configPath string) (*storage.Owners, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	owners, err := storage.NewOwners(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return owners, func() { db.Close() }, nil
}

func buildOwnersAddCmd() *cobra.Command {
	var (
		configPath   string
		id           int64
		username     string
		token        string
		knowledge    string
		calendarID   string
		subscription string
		until        string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an owner or update an existing one",
		Example: `  assistant owners add --id 42 --token 123:abc --knowledge kb-42
  assistant owners add --id 42 --subscription premium --until 2026-12-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			owners, closeDB, err := openOwners(configPath)
			if err != nil {
				return err
			}
			defer closeDB()

			owner := models.Owner{
				ID:                id,
				Username:          username,
				BotToken:          token,
				KnowledgeSourceID: knowledge,
				CalendarID:        calendarID,
				Subscription:      subscription,
			}
			if until != "" {
				t, err := time.Parse("2006-01-02", until)
				if err != nil {
					return fmt.Errorf("parse --until: %w", err)
				}
				owner.SubscribedUntil = &t
			}
			if err := owners.Upsert(cmd.Context(), owner); err != nil {
				return err
			}
			fmt.Printf("owner %d saved\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "assistant.yaml", "Path to YAML configuration file")
	cmd.Flags().Int64Var(&id, "id", 0, "Owner's Telegram user ID (required)")
	cmd.Flags().StringVar(&username, "username", "", "Owner's username")
	cmd.Flags().StringVar(&token, "token", "", "Bot token from @BotFather")
	cmd.Flags().StringVar(&knowledge, "knowledge", "", "Knowledge source ID")
	cmd.Flags().StringVar(&calendarID, "calendar", "", "Calendar ID (defaults to primary)")
	cmd.Flags().StringVar(&subscription, "subscription", "free", "Plan: free or premium")
	cmd.Flags().StringVar(&until, "until", "", "Subscription end date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func buildOwnersListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List owners with a bot credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			owners, closeDB, err := openOwners(configPath)
			if err != nil {
				return err
			}
			defer closeDB()

			active, err := owners.ListActive(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tPLAN\tKNOWLEDGE\tCALENDAR")
			for _, o := range active {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
					o.ID, o.Username, o.Subscription, o.KnowledgeSourceID, o.CollectionID())
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "assistant.yaml", "Path to YAML configuration file")
	return cmd
}

func buildOwnersRemoveCmd() *cobra.Command {
	var (
		configPath string
		id         int64
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owners, closeDB, err := openOwners(configPath)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := owners.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("owner %d removed\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "assistant.yaml", "Path to YAML configuration file")
	cmd.Flags().Int64Var(&id, "id", 0, "Owner's Telegram user ID (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
