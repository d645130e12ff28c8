package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func telemetryFixture(t *testing.T) (*fixture, *Device) {
	t.Helper()
	f := newFixture()
	seedParking(f, "park-1", "user-1", "Centro")
	p := f.parkings.parkings[0]
	p.AvailableSpaces = 2
	seedSpot(f, "spot-1", "park-1", "A-01", true)
	seedSpot(f, "spot-2", "park-1", "A-02", true)
	device := seedDevice(f, &Device{
		ID: "dev-1", SerialNumber: "SN-1", Type: DeviceTypeSensor,
		Status: StatusOnline, Battery: 80, OwnerID: "user-1",
		ParkingID: strPtr("park-1"), ParkingSpotID: strPtr("spot-1"),
	})
	return f, device
}

func TestIngestUpdatesDeviceState(t *testing.T) {
	f, _ := telemetryFixture(t)
	ctx := context.Background()
	checkedAt := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)

	err := f.tel.Ingest(ctx, "SN-1", TelemetryReport{
		Status:    StatusOnline,
		Battery:   intPtr(64),
		CheckedAt: &checkedAt,
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	device, err := f.devices.GetBySerial(ctx, "SN-1")
	if err != nil {
		t.Fatalf("device lookup failed: %v", err)
	}
	if device.Battery != 64 {
		t.Errorf("expected battery 64, got %d", device.Battery)
	}
	if !device.LastCheckIn.Equal(checkedAt) {
		t.Errorf("expected check-in %v, got %v", checkedAt, device.LastCheckIn)
	}
}

func TestIngestPartialReport(t *testing.T) {
	f, _ := telemetryFixture(t)
	ctx := context.Background()

	// Neither status nor battery supplied: the current values stand,
	// only the check-in timestamp moves.
	if err := f.tel.Ingest(ctx, "SN-1", TelemetryReport{}); err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	device, _ := f.devices.GetBySerial(ctx, "SN-1")
	if device.Status != StatusOnline {
		t.Errorf("status should be untouched, got %q", device.Status)
	}
	if device.Battery != 80 {
		t.Errorf("battery should be untouched, got %d", device.Battery)
	}
	if device.LastCheckIn.IsZero() {
		t.Error("check-in should be stamped")
	}
}

func TestIngestUnknownSerial(t *testing.T) {
	f, _ := telemetryFixture(t)
	err := f.tel.Ingest(context.Background(), "SN-UNKNOWN", TelemetryReport{})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestIngestOccupancyCascade(t *testing.T) {
	f, _ := telemetryFixture(t)
	ctx := context.Background()

	err := f.tel.Ingest(ctx, "SN-1", TelemetryReport{Occupied: boolPtr(true)})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	spot, _ := f.spots.GetByID(ctx, "spot-1")
	if spot.Available {
		t.Error("occupied report should mark the spot unavailable")
	}
	parking, _ := f.parkings.GetByID(ctx, "park-1")
	if parking.AvailableSpaces != 1 {
		t.Errorf("expected 1 available space after cascade, got %d", parking.AvailableSpaces)
	}

	// The car leaves.
	err = f.tel.Ingest(ctx, "SN-1", TelemetryReport{Occupied: boolPtr(false)})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	spot, _ = f.spots.GetByID(ctx, "spot-1")
	if !spot.Available {
		t.Error("vacated report should mark the spot available")
	}
	parking, _ = f.parkings.GetByID(ctx, "park-1")
	if parking.AvailableSpaces != 2 {
		t.Errorf("expected 2 available spaces, got %d", parking.AvailableSpaces)
	}
}

func TestIngestCascadeIdempotent(t *testing.T) {
	f, _ := telemetryFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := f.tel.Ingest(ctx, "SN-1", TelemetryReport{Occupied: boolPtr(true)}); err != nil {
			t.Fatalf("Ingest returned error: %v", err)
		}
	}

	parking, _ := f.parkings.GetByID(ctx, "park-1")
	if parking.AvailableSpaces != 1 {
		t.Errorf("repeated occupied reports must not drift the aggregate, got %d", parking.AvailableSpaces)
	}
}

func TestIngestCascadeGuards(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Device)
		report TelemetryReport
	}{
		{
			"no occupancy reading",
			func(d *Device) {},
			TelemetryReport{Battery: intPtr(50)},
		},
		{
			"device not a sensor",
			func(d *Device) { d.Type = "camera" },
			TelemetryReport{Occupied: boolPtr(true)},
		},
		{
			"device not bound to a spot",
			func(d *Device) { d.ParkingSpotID = nil },
			TelemetryReport{Occupied: boolPtr(true)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := telemetryFixture(t)
			ctx := context.Background()
			tt.mutate(f.devices.devices[0])

			if err := f.tel.Ingest(ctx, "SN-1", tt.report); err != nil {
				t.Fatalf("Ingest returned error: %v", err)
			}

			spot, _ := f.spots.GetByID(ctx, "spot-1")
			if !spot.Available {
				t.Error("spot must be untouched when the cascade does not apply")
			}
			parking, _ := f.parkings.GetByID(ctx, "park-1")
			if parking.AvailableSpaces != 2 {
				t.Errorf("aggregate must be untouched, got %d", parking.AvailableSpaces)
			}
		})
	}
}

func TestIngestStaleSpotReference(t *testing.T) {
	f, _ := telemetryFixture(t)
	ctx := context.Background()
	f.devices.devices[0].ParkingSpotID = strPtr("spot-gone")

	err := f.tel.Ingest(ctx, "SN-1", TelemetryReport{
		Battery:  intPtr(42),
		Occupied: boolPtr(true),
	})
	if err != nil {
		t.Fatalf("stale spot reference must not fail the ingest: %v", err)
	}

	device, _ := f.devices.GetBySerial(ctx, "SN-1")
	if device.Battery != 42 {
		t.Errorf("device update should stand, got battery %d", device.Battery)
	}
	parking, _ := f.parkings.GetByID(ctx, "park-1")
	if parking.AvailableSpaces != 2 {
		t.Errorf("aggregate must be untouched, got %d", parking.AvailableSpaces)
	}
}

func TestIngestPublishesOccupancy(t *testing.T) {
	f, device := telemetryFixture(t)
	device.MQTTTopic = "parkwise/parkings/park-1/devices/SN-1"
	f.devices.devices[0].MQTTTopic = device.MQTTTopic

	broker := &captureBroker{}
	f.tel.broker = broker

	err := f.tel.Ingest(context.Background(), "SN-1", TelemetryReport{Occupied: boolPtr(true)})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	if len(broker.published) != 1 {
		t.Fatalf("expected one published update, got %d", len(broker.published))
	}
	if broker.published[0].topic != device.MQTTTopic {
		t.Errorf("published to %q, expected %q", broker.published[0].topic, device.MQTTTopic)
	}
}

type captureBroker struct {
	published []struct {
		topic   string
		payload []byte
	}
}

func (b *captureBroker) Publish(topic string, payload []byte) error {
	b.published = append(b.published, struct {
		topic   string
		payload []byte
	}{topic, payload})
	return nil
}
