package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/postwave/postwave/internal/suppress"
)

var suppressCmd = &cobra.Command{
	Use:   "suppress",
	Short: "Manage the suppression list",
}

var suppressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unsubscribed addresses",
	RunE:  runSuppressList,
}

var suppressAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Unsubscribe an address",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuppressAdd,
}

var suppressRemoveCmd = &cobra.Command{
	Use:   "remove <email>",
	Short: "Remove an address from the suppression list",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuppressRemove,
}

func init() {
	suppressCmd.AddCommand(suppressListCmd, suppressAddCmd, suppressRemoveCmd)
}

func openSuppressStore() (*suppress.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := suppress.NewStore(cfg.Storage.SuppressionPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open suppression store: %w", err)
	}
	return store, nil
}

func runSuppressList(cmd *cobra.Command, args []string) error {
	store, err := openSuppressStore()
	if err != nil {
		return err
	}
	defer store.Close()

	unsubs, err := store.ListUnsubscribes(0, 0)
	if err != nil {
		return fmt.Errorf("failed to list unsubscribes: %w", err)
	}

	if len(unsubs) == 0 {
		fmt.Println("Suppression list is empty")
		return nil
	}

	for _, u := range unsubs {
		fmt.Printf("%s\t%s\t%s\n", u.Email, u.Source, u.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSuppressAdd(cmd *cobra.Command, args []string) error {
	store, err := openSuppressStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Unsubscribe(args[0], "manual"); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}

	fmt.Printf("Unsubscribed %s\n", args[0])
	return nil
}

func runSuppressRemove(cmd *cobra.Command, args []string) error {
	store, err := openSuppressStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Resubscribe(args[0]); err != nil {
		return fmt.Errorf("failed to resubscribe: %w", err)
	}

	fmt.Printf("Removed %s from the suppression list\n", args[0])
	return nil
}
