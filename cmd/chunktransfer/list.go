package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored files",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := createContext()
	defer cancel()

	session, cleanup, err := newSession(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() {
		if err := session.Close(ctx); err != nil {
			logger.Warnf("Failed to close session: %s", err)
		}
	}()

	infos, err := session.List(ctx)
	if err != nil {
		return err
	}

	return printTransfers(out, infos)
}

func printTransfers(out io.Writer, infos []network.TransferInfo) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSIZE\tCHUNKS\tSTATUS")
	for _, info := range infos {
		status := "complete"
		if !info.Completed {
			status = "partial"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n", info.FileID, info.FileName,
			units.HumanSizeWithPrecision(float64(info.Size), 3), info.UploadedChunks, info.TotalChunks, status)
	}
	return w.Flush()
}
