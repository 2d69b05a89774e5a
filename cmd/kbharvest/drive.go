package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/siftlabs/kbharvest/internal/config"
	"github.com/siftlabs/kbharvest/internal/drive"
	"github.com/siftlabs/kbharvest/internal/pipeline"
)

var driveOut string

// driveCmd creates the "drive" subcommand.
func driveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive [folder-url]",
		Short: "Harvest documents from a public Google Drive folder",
		Long: `Walk a publicly shared Google Drive folder (subfolders included) and
extract every supported document as a knowledge base item.

Supported files: PDF, DOCX, and native Google Docs (exported as text).
The folder must be shared as "anyone with the link can view".`,
		Args: cobra.ExactArgs(1),
		RunE: runDriveCmd,
	}

	cmd.Flags().StringVarP(&driveOut, "out", "o", "./output/drive.json", "output JSON file")

	return cmd
}

// runDriveCmd executes the drive command.
func runDriveCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	folderURL := args[0]
	if err := config.ValidateURL(folderURL); err != nil {
		return fmt.Errorf("invalid URL %q: %w", folderURL, err)
	}

	logger := setupLogger(cfg)

	fmt.Printf("📁 KBHarvest Drive\n")
	fmt.Printf("   Folder: %s\n\n", folderURL)

	harvester, err := drive.NewHarvester(cfg, logger)
	if err != nil {
		return fmt.Errorf("create harvester: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, stopping harvest...", "signal", sig)
		cancel()
	}()

	start := time.Now()
	items, err := harvester.HarvestFolder(ctx, folderURL)
	if err != nil {
		return fmt.Errorf("harvest folder: %w", err)
	}

	items = pipeline.Default(logger).ProcessAll(items)
	if err := writeItems(driveOut, items); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	fmt.Printf("\n✅ Harvest complete in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("   Items:  %d\n", len(items))
	fmt.Printf("   Output: %s\n", driveOut)

	return nil
}
