package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// TelemetryService ingests device telemetry. Requests are addressed by
// serial number and trusted on that basis; no user token is involved.
type TelemetryService struct {
	stores *Stores
	cache  Cache
	broker Broker
	logger *logrus.Logger
}

// NewTelemetryService wires a telemetry service. Cache and broker may
// be nil.
func NewTelemetryService(stores *Stores, cache Cache, broker Broker, logger *logrus.Logger) *TelemetryService {
	return &TelemetryService{
		stores: stores,
		cache:  cache,
		broker: broker,
		logger: logger,
	}
}

// occupancyUpdate is the payload published to the device MQTT topic
// after a cascade.
type occupancyUpdate struct {
	SpotID          string    `json:"spotId"`
	Available       bool      `json:"available"`
	ParkingID       string    `json:"parkingId"`
	AvailableSpaces int       `json:"availableSpaces"`
	ReportedAt      time.Time `json:"reportedAt"`
}

// Ingest records a telemetry report. The device state update and, for
// occupancy sensors bound to a spot, the spot flip plus the parking
// aggregate recount run in one transaction so the three records never
// diverge.
func (s *TelemetryService) Ingest(ctx context.Context, serial string, report TelemetryReport) error {
	device, err := s.lookupDevice(ctx, serial)
	if err != nil {
		return err
	}

	var cascade *occupancyUpdate

	err = s.stores.WithTransaction(ctx, func(ctx context.Context, tx *Stores) error {
		if report.Status != "" {
			device.Status = report.Status
		}
		if report.Battery != nil {
			device.Battery = *report.Battery
		}
		if report.CheckedAt != nil {
			device.LastCheckIn = *report.CheckedAt
		} else {
			device.LastCheckIn = time.Now()
		}
		device.UpdatedAt = time.Now()

		if err := tx.Devices.Update(ctx, device); err != nil {
			return fmt.Errorf("failed to update device: %w", err)
		}

		// Occupancy cascade: only sensors bound to a spot, and only
		// when the report actually carries an occupancy reading.
		if device.Type != DeviceTypeSensor || device.ParkingSpotID == nil || report.Occupied == nil {
			return nil
		}

		spot, err := tx.Spots.GetByID(ctx, *device.ParkingSpotID)
		if err != nil {
			// Stale spot reference; the device update stands.
			return nil
		}

		spot.Available = !*report.Occupied
		spot.UpdatedAt = time.Now()
		if err := tx.Spots.Update(ctx, spot); err != nil {
			return fmt.Errorf("failed to update spot: %w", err)
		}

		available, err := tx.Spots.CountAvailable(ctx, spot.ParkingID)
		if err != nil {
			return fmt.Errorf("failed to count available spots: %w", err)
		}
		if err := tx.Parkings.UpdateAvailableSpaces(ctx, spot.ParkingID, available); err != nil {
			return fmt.Errorf("failed to update parking aggregate: %w", err)
		}

		cascade = &occupancyUpdate{
			SpotID:          spot.ID,
			Available:       spot.Available,
			ParkingID:       spot.ParkingID,
			AvailableSpaces: available,
			ReportedAt:      device.LastCheckIn,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.cacheDevice(ctx, device)

	if cascade != nil {
		s.publishOccupancy(device, cascade)
		s.logger.WithFields(logrus.Fields{
			"serial":           serial,
			"spot_id":          cascade.SpotID,
			"available":        cascade.Available,
			"available_spaces": cascade.AvailableSpaces,
		}).Info("Occupancy cascade applied")
	}

	return nil
}

// lookupDevice resolves a serial number, preferring the read cache.
func (s *TelemetryService) lookupDevice(ctx context.Context, serial string) (*Device, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, deviceCacheKey(serial)); err == nil {
			var device Device
			if err := json.Unmarshal([]byte(data), &device); err == nil {
				return &device, nil
			}
		}
	}

	device, err := s.stores.Devices.GetBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (s *TelemetryService) cacheDevice(ctx context.Context, device *Device) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(device)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, deviceCacheKey(device.SerialNumber), string(data), deviceCacheTTL); err != nil {
		s.logger.WithError(err).WithField("serial", device.SerialNumber).Warn("Failed to cache device")
	}
}

func (s *TelemetryService) publishOccupancy(device *Device, update *occupancyUpdate) {
	if s.broker == nil || device.MQTTTopic == "" {
		return
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return
	}
	if err := s.broker.Publish(device.MQTTTopic, payload); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"topic":  device.MQTTTopic,
			"serial": device.SerialNumber,
		}).Warn("Failed to publish occupancy update")
	}
}
