package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"backoffice-service/internal/broker"
	"backoffice-service/internal/service"
	"backoffice-service/internal/util"

	"github.com/spf13/cobra"
)

func dispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Store dispatch tools",
	}

	importCmd := &cobra.Command{
		Use:   "import [file.csv]",
		Short: "Import a store dispatch spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE:  runDispatchImport,
	}
	importCmd.Flags().StringP("location", "l", "", "Receiving location")
	importCmd.Flags().String("sent-date", "", "When the goods were sent (ISO-8601)")
	importCmd.Flags().Bool("no-events", false, "Do not publish a DispatchImported event")
	_ = importCmd.MarkFlagRequired("location")
	cmd.AddCommand(importCmd)

	return cmd
}

func runDispatchImport(cmd *cobra.Command, args []string) error {
	location, _ := cmd.Flags().GetString("location")
	sentDate, _ := cmd.Flags().GetString("sent-date")
	noEvents, _ := cmd.Flags().GetBool("no-events")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	clock, err := util.NewClock(e.cfg.Business.Timezone)
	if err != nil {
		return err
	}

	var publisher service.EventPublisher
	if !noEvents {
		producer := broker.NewProducer(e.cfg.Kafka.Brokers, e.cfg.Kafka.TopicEvents)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
	}

	importer := service.NewDispatchImportService(
		e.store,
		service.NewCounterService(e.store, nil),
		publisher,
		clock,
		e.cfg.Business.DispatchNumberMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := importer.Import(ctx, service.ImportRequest{
		Filename: filepath.Base(args[0]),
		Data:     data,
		Location: location,
		SentDate: sentDate,
	})
	if err != nil {
		return err
	}

	fmt.Println(result.Summary)
	return nil
}
