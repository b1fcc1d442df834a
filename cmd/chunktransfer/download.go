package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-chunktransfer/config"
	"github.com/bitrise-io/go-chunktransfer/transfer"
	"github.com/bitrise-io/go-chunktransfer/transfer/network"
	"github.com/spf13/cobra"
)

type downloadFlags struct {
	Output      string
	ChunkSize   string
	TotalChunks uint32
}

var downloadOpts downloadFlags

var downloadCmd = &cobra.Command{
	Use:   "download <file-id>",
	Short: "Download a stored file",
	Long: `Download every chunk of a stored file concurrently and reassemble it.

The chunk layout is looked up from the backend. Backends that cannot list their
transfers need --chunk-size and --total-chunks. The output file only appears
once every chunk arrived.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDownload(network.FileID(args[0]), downloadOpts)
	},
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().StringVarP(&downloadOpts.Output, "output", "o", "", "path to save the file to (default: the original file name)")
	downloadCmd.Flags().StringVar(&downloadOpts.ChunkSize, "layout-chunk-size", "", "chunk size the file was uploaded with")
	downloadCmd.Flags().Uint32Var(&downloadOpts.TotalChunks, "total-chunks", 0, "number of chunks the file was uploaded as")
	downloadCmd.MarkFlagsRequiredTogether("layout-chunk-size", "total-chunks")
}

func runDownload(id network.FileID, flags downloadFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := createContext()
	defer cancel()

	sink := newProgressSink(os.Stderr, "Downloading", 0, logger)
	session, cleanup, err := newSession(ctx, cfg, sink)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() {
		if err := session.Close(ctx); err != nil {
			logger.Warnf("Failed to close session: %s", err)
		}
	}()

	var req transfer.DownloadRequest
	if flags.TotalChunks > 0 {
		chunkSize, err := config.ParseChunkSize(flags.ChunkSize)
		if err != nil {
			return fmt.Errorf("invalid chunk size: %w", err)
		}
		req = transfer.DownloadRequest{FileID: id, ChunkSize: chunkSize, TotalChunks: flags.TotalChunks}
	} else {
		req, err = session.ResolveDownload(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to look up %s: %w", id, err)
		}
	}

	saveAs := flags.Output
	if saveAs == "" {
		saveAs = filepath.Base(req.FileName)
		if req.FileName == "" {
			saveAs = string(id)
		}
	}

	if err := session.RequestDownload(ctx, req, saveAs); err != nil {
		return err
	}
	if err := session.Wait(ctx); err != nil {
		return err
	}
	_ = sink.bar.Finish()
	logger.Donef("Saved %s", saveAs)

	return nil
}
