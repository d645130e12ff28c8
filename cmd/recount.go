package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"example.com/parkwise/services/iot/internal/core"
	"example.com/parkwise/services/iot/internal/infrastructure"
)

var (
	recountParkingID string
	recountDryRun    bool
)

var recountCmd = &cobra.Command{
	Use:   "recount",
	Short: "Recompute parking available-space aggregates from spot state",
	Long: `Recomputes every parking's available-space counter from its spots.
Useful after restoring a backup or recovering from a crash that landed
between the spot update and the aggregate write.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRecount()
	},
}

func init() {
	rootCmd.AddCommand(recountCmd)
	recountCmd.Flags().StringVarP(&recountParkingID, "parking", "p", "", "recount a single parking by id")
	recountCmd.Flags().BoolVar(&recountDryRun, "dry-run", false, "report drift without writing")
}

func runRecount() error {
	logger.Info("Starting aggregate recount...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	stores := core.NewStores(db.DB)

	var parkings []*core.Parking
	if recountParkingID != "" {
		parking, err := stores.Parkings.GetByID(ctx, recountParkingID)
		if err != nil {
			return err
		}
		parkings = append(parkings, parking)
	} else {
		parkings, err = stores.Parkings.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("failed to list parkings: %w", err)
		}
	}

	drifted := 0
	for _, parking := range parkings {
		available, err := stores.Spots.CountAvailable(ctx, parking.ID)
		if err != nil {
			return fmt.Errorf("failed to count spots for parking %s: %w", parking.ID, err)
		}

		if available == parking.AvailableSpaces {
			continue
		}
		drifted++

		fields := logrus.Fields{
			"parking_id": parking.ID,
			"stored":     parking.AvailableSpaces,
			"actual":     available,
		}
		if recountDryRun {
			logger.WithFields(fields).Warn("Aggregate drift detected (dry run)")
			continue
		}

		if err := stores.Parkings.UpdateAvailableSpaces(ctx, parking.ID, available); err != nil {
			return fmt.Errorf("failed to update parking %s: %w", parking.ID, err)
		}
		logger.WithFields(fields).Info("Aggregate corrected")
	}

	logger.WithFields(logrus.Fields{
		"parkings": len(parkings),
		"drifted":  drifted,
	}).Info("Recount complete")
	return nil
}
