package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/parkwise/services/iot/internal/core"
	"example.com/parkwise/services/iot/internal/infrastructure"
	"example.com/parkwise/services/iot/internal/utils"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Applies all pending database migrations to ensure the schema is up to date.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "insert demo data after migrating")
}

func runMigrations() error {
	logger.Info("Running database migrations...")

	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	models := []interface{}{
		&core.Parking{},
		&core.ParkingSpot{},
		&core.Device{},
	}

	for _, model := range models {
		if err := db.DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("failed to migrate %T: %w", model, err)
		}
		logger.Infof("Migrated %T", model)
	}

	if migrateSeed {
		if err := insertDemoData(db); err != nil {
			logger.WithError(err).Warn("Failed to insert demo data")
		}
	}

	logger.Info("Database migrations completed successfully")
	return nil
}

// insertDemoData seeds a demo parking with a handful of spots so the
// dashboard has something to show on a fresh install.
func insertDemoData(db *infrastructure.Database) error {
	var count int64
	if err := db.DB.Model(&core.Parking{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	logger.Info("Inserting demo parking...")

	parking := core.Parking{
		ID:              uuid.New().String(),
		OwnerID:         "demo-user",
		Name:            "Central Parking",
		AvailableSpaces: 4,
	}
	if err := db.DB.Create(&parking).Error; err != nil {
		return err
	}

	var firstSpotID string
	for _, label := range []string{"A-01", "A-02", "B-01", "B-02"} {
		spot := core.ParkingSpot{
			ID:        uuid.New().String(),
			ParkingID: parking.ID,
			Label:     label,
			Available: true,
		}
		if err := db.DB.Create(&spot).Error; err != nil {
			logger.WithError(err).WithField("label", label).Warn("Failed to create demo spot")
			continue
		}
		if firstSpotID == "" {
			firstSpotID = spot.ID
		}
	}

	if firstSpotID != "" {
		token, err := utils.NewDeviceToken()
		if err != nil {
			return err
		}
		device := core.Device{
			ID:            uuid.New().String(),
			SerialNumber:  "DEMO-0001",
			Model:         "ParkSense Demo",
			Type:          core.DeviceTypeSensor,
			Status:        core.StatusOffline,
			Battery:       100,
			OwnerID:       parking.OwnerID,
			ParkingID:     &parking.ID,
			ParkingSpotID: &firstSpotID,
			DeviceToken:   token,
		}
		if err := db.DB.Create(&device).Error; err != nil {
			logger.WithError(err).Warn("Failed to create demo device")
		}
	}

	logger.WithField("parking_id", parking.ID).Info("Demo parking created")
	return nil
}
