package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"standin/internal/blob"
	"standin/internal/config"
)

func newBlobCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blob",
		Short: "Operate on the local disk blob container",
	}

	cmd.AddCommand(
		newBlobUploadCmd(cfg),
		newBlobDownloadCmd(cfg),
		newBlobLeaseCmd(cfg),
		newBlobDropCmd(cfg),
	)

	return cmd
}

func newBlobUploadCmd(cfg *config.Config) *cobra.Command {
	var (
		data      string
		file      string
		overwrite bool
		leaseID   string
	)

	cmd := &cobra.Command{
		Use:   "upload <key>",
		Short: "Upload a blob payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if data != "" && file != "" {
				return errors.New("--data and --file are mutually exclusive")
			}
			payload := []byte(data)
			if file != "" {
				read, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payload = read
			}

			store, err := blob.New(cfg.BlobStoreConfig())
			if err != nil {
				return err
			}
			return store.UploadBlob(cmd.Context(), args[0], payload, overwrite, leaseID)
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "inline payload")
	cmd.Flags().StringVar(&file, "file", "", "read payload from file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite an existing blob")
	cmd.Flags().StringVar(&leaseID, "lease", "", "lease id for a leased blob")

	return cmd
}

func newBlobDownloadCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "download <key>",
		Short: "Print a blob payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blob.New(cfg.BlobStoreConfig())
			if err != nil {
				return err
			}
			content, err := store.DownloadBlob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writePlain("%s", content)
		},
	}
}

func newBlobLeaseCmd(cfg *config.Config) *cobra.Command {
	var durationSeconds int

	cmd := &cobra.Command{
		Use:   "lease <key>",
		Short: "Acquire an exclusive write lease on a blob",
		Long: "Acquire an exclusive write lease on a blob and print its id. " +
			"The lease file is left in place and expires on its own; pass the " +
			"printed id to subsequent uploads.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blob.New(cfg.BlobStoreConfig())
			if err != nil {
				return err
			}
			lease, err := store.LeaseBlob(cmd.Context(), args[0], time.Duration(durationSeconds)*time.Second)
			if err != nil {
				return err
			}
			return writeYAML(map[string]any{
				"lease_id": lease.ID(),
				"until":    lease.Until(),
			})
		},
	}

	cmd.Flags().IntVar(&durationSeconds, "duration", 60, "lease duration in seconds")

	return cmd
}

func newBlobDropCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Delete the entire blob container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := blob.New(cfg.BlobStoreConfig())
			if err != nil {
				return err
			}
			return store.DeleteContainer(cmd.Context())
		},
	}
}
