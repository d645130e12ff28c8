package core

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"example.com/parkwise/services/iot/config"
)

// In-memory store fakes. Because the services depend on the store
// interfaces, tests can run the full business logic without a
// database.

type memDeviceStore struct {
	devices []*Device
}

func (m *memDeviceStore) Create(_ context.Context, d *Device) error {
	copied := *d
	m.devices = append(m.devices, &copied)
	return nil
}

func (m *memDeviceStore) Update(_ context.Context, d *Device) error {
	for i, existing := range m.devices {
		if existing.ID == d.ID {
			copied := *d
			m.devices[i] = &copied
			return nil
		}
	}
	return ErrDeviceNotFound
}

func (m *memDeviceStore) Delete(_ context.Context, id string) error {
	for i, d := range m.devices {
		if d.ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}
	return ErrDeviceNotFound
}

func (m *memDeviceStore) GetByID(_ context.Context, id string) (*Device, error) {
	for _, d := range m.devices {
		if d.ID == id {
			copied := *d
			return &copied, nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (m *memDeviceStore) GetBySerial(_ context.Context, serial string) (*Device, error) {
	for _, d := range m.devices {
		if d.SerialNumber == serial {
			copied := *d
			return &copied, nil
		}
	}
	return nil, ErrDeviceNotFound
}

func (m *memDeviceStore) SerialExists(_ context.Context, serial string) (bool, error) {
	for _, d := range m.devices {
		if d.SerialNumber == serial {
			return true, nil
		}
	}
	return false, nil
}

func (m *memDeviceStore) ListVisible(_ context.Context, ownerID string, parkingIDs []string) ([]*Device, error) {
	inParkings := make(map[string]bool, len(parkingIDs))
	for _, id := range parkingIDs {
		inParkings[id] = true
	}
	var visible []*Device
	for _, d := range m.devices {
		if d.OwnerID == ownerID || (d.ParkingID != nil && inParkings[*d.ParkingID]) {
			copied := *d
			visible = append(visible, &copied)
		}
	}
	return visible, nil
}

type memParkingStore struct {
	parkings []*Parking
}

func (m *memParkingStore) GetByID(_ context.Context, id string) (*Parking, error) {
	for _, p := range m.parkings {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, ErrParkingNotFound
}

func (m *memParkingStore) ListByOwner(_ context.Context, ownerID string) ([]*Parking, error) {
	var owned []*Parking
	for _, p := range m.parkings {
		if p.OwnerID == ownerID {
			copied := *p
			owned = append(owned, &copied)
		}
	}
	return owned, nil
}

func (m *memParkingStore) ListAll(_ context.Context) ([]*Parking, error) {
	return m.parkings, nil
}

func (m *memParkingStore) UpdateAvailableSpaces(_ context.Context, parkingID string, count int) error {
	for _, p := range m.parkings {
		if p.ID == parkingID {
			p.AvailableSpaces = count
			return nil
		}
	}
	return ErrParkingNotFound
}

type memSpotStore struct {
	spots []*ParkingSpot
}

func (m *memSpotStore) GetByID(_ context.Context, id string) (*ParkingSpot, error) {
	for _, s := range m.spots {
		if s.ID == id {
			copied := *s
			return &copied, nil
		}
	}
	return nil, ErrSpotNotFound
}

func (m *memSpotStore) GetByLabel(_ context.Context, parkingID, label string) (*ParkingSpot, error) {
	for _, s := range m.spots {
		if s.ParkingID == parkingID && s.Label == label {
			copied := *s
			return &copied, nil
		}
	}
	return nil, ErrSpotNotFound
}

func (m *memSpotStore) ListByIDs(_ context.Context, ids []string) ([]*ParkingSpot, error) {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var spots []*ParkingSpot
	for _, s := range m.spots {
		if wanted[s.ID] {
			copied := *s
			spots = append(spots, &copied)
		}
	}
	return spots, nil
}

func (m *memSpotStore) Update(_ context.Context, spot *ParkingSpot) error {
	for i, s := range m.spots {
		if s.ID == spot.ID {
			copied := *spot
			m.spots[i] = &copied
			return nil
		}
	}
	return ErrSpotNotFound
}

func (m *memSpotStore) CountAvailable(_ context.Context, parkingID string) (int, error) {
	count := 0
	for _, s := range m.spots {
		if s.ParkingID == parkingID && s.Available {
			count++
		}
	}
	return count, nil
}

// fixture bundles the fakes with ready-made services.
type fixture struct {
	devices  *memDeviceStore
	parkings *memParkingStore
	spots    *memSpotStore
	stores   *Stores
	svc      *DeviceService
	tel      *TelemetryService
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{
		devices:  &memDeviceStore{},
		parkings: &memParkingStore{},
		spots:    &memSpotStore{},
	}
	f.stores = NewTestStores(f.devices, f.parkings, f.spots)
	f.svc = NewDeviceService(f.stores, nil, nil, logger, config.ConnectivityConfig{
		TopicPrefix:    "parkwise",
		WebhookBaseURL: "https://hooks.example.com/devices",
	})
	f.tel = NewTelemetryService(f.stores, nil, nil, logger)
	return f
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }
