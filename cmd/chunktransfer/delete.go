package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bitrise-io/go-chunktransfer/transfer"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/spf13/cobra"
)

var assumeYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <file-id>...",
	Short: "Delete stored files",
	Long:  `Delete stored files and all of their chunks. Every deletion is confirmed unless --yes is given.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var confirm transfer.ConfirmFunc
		if !assumeYes {
			confirm = promptConfirm(os.Stdin, os.Stderr)
		}
		return runDelete(args, confirm)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "delete without asking")
}

func runDelete(ids []string, confirm transfer.ConfirmFunc) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := createContext()
	defer cancel()

	session, cleanup, err := newSession(ctx, cfg, transfer.NopSink{})
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() {
		if err := session.Close(ctx); err != nil {
			logger.Warnf("Failed to close session: %s", err)
		}
	}()

	var failed int
	for _, id := range ids {
		if _, err := session.RequestDelete(ctx, network.FileID(id), confirm); err != nil {
			logger.Errorf("Failed to delete %s: %s", id, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletion(s) failed", failed, len(ids))
	}

	return nil
}

// promptConfirm asks on out and reads a y/N answer from in.
func promptConfirm(in io.Reader, out io.Writer) transfer.ConfirmFunc {
	scanner := bufio.NewScanner(in)
	return func(id network.FileID) bool {
		_, _ = fmt.Fprintf(out, "Delete %s? [y/N] ", id)
		if !scanner.Scan() {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		return answer == "y" || answer == "yes"
	}
}
