package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"example.com/parkwise/services/iot/config"
	"example.com/parkwise/services/iot/internal/utils"
)

// Cache is the read cache for hot device lookups. The service runs
// without one when nil.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
}

// EventPublisher feeds device lifecycle events to downstream consumers
// (the notification pipeline). Best-effort; publish failures are
// logged, never surfaced to the caller.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, message interface{}) error
}

// Broker publishes device state to the MQTT broker.
type Broker interface {
	Publish(topic string, payload []byte) error
}

// Lifecycle event topics.
const (
	EventDeviceCreated     = "device.created"
	EventDeviceDeleted     = "device.deleted"
	EventDeviceMaintenance = "device.maintenance"
	EventDeviceRestored    = "device.restored"
	EventDeviceCredentials = "device.credentials"
)

const deviceCacheTTL = 24 * time.Hour

func deviceCacheKey(serial string) string {
	return "device:serial:" + serial
}

// DeviceService implements device provisioning, queries and lifecycle
// transitions with ownership-based authorization.
type DeviceService struct {
	stores       *Stores
	cache        Cache
	events       EventPublisher
	logger       *logrus.Logger
	connectivity config.ConnectivityConfig
}

// NewDeviceService wires a device service. Cache and events may be nil.
func NewDeviceService(stores *Stores, cache Cache, events EventPublisher, logger *logrus.Logger, connectivity config.ConnectivityConfig) *DeviceService {
	return &DeviceService{
		stores:       stores,
		cache:        cache,
		events:       events,
		logger:       logger,
		connectivity: connectivity,
	}
}

// ownedParkings returns the parkings owned by userID, keyed by id.
func (s *DeviceService) ownedParkings(ctx context.Context, userID string) (map[string]*Parking, error) {
	parkings, err := s.stores.Parkings.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owned parkings: %w", err)
	}
	owned := make(map[string]*Parking, len(parkings))
	for _, p := range parkings {
		owned[p.ID] = p
	}
	return owned, nil
}

// authorize enforces the device access policy: the caller owns the
// device directly, or owns the parking the device is bound to.
func (s *DeviceService) authorize(ctx context.Context, userID string, device *Device) error {
	if device.OwnerID == userID {
		return nil
	}
	if device.ParkingID != nil {
		parking, err := s.stores.Parkings.GetByID(ctx, *device.ParkingID)
		if err == nil && parking.OwnerID == userID {
			return nil
		}
	}
	return AccessDeniedError{Resource: "device", ID: device.ID}
}

// List applies the visibility rule, query filters, enrichment and
// pagination for the device list endpoint.
func (s *DeviceService) List(ctx context.Context, userID string, filter DeviceFilter) (*DeviceList, error) {
	owned, err := s.ownedParkings(ctx, userID)
	if err != nil {
		return nil, err
	}
	parkingIDs := make([]string, 0, len(owned))
	for id := range owned {
		parkingIDs = append(parkingIDs, id)
	}
	sort.Strings(parkingIDs)

	devices, err := s.stores.Devices.ListVisible(ctx, userID, parkingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	filtered := make([]*Device, 0, len(devices))
	for _, d := range devices {
		if matchesFilter(d, filter) {
			filtered = append(filtered, d)
		}
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Size
	if size < 1 {
		size = 10
	}

	total := len(filtered)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	views, err := s.enrich(ctx, filtered[start:end], owned)
	if err != nil {
		return nil, err
	}

	return &DeviceList{
		Data:       views,
		Total:      total,
		Page:       page,
		Size:       size,
		TotalPages: int(math.Ceil(float64(total) / float64(size))),
	}, nil
}

func matchesFilter(d *Device, f DeviceFilter) bool {
	if f.Type != "" && f.Type != FilterAll && d.Type != f.Type {
		return false
	}
	if f.Status != "" && f.Status != FilterAll && d.Status != f.Status {
		return false
	}
	if f.ParkingID != "" && f.ParkingID != FilterAll {
		if d.ParkingID == nil || *d.ParkingID != f.ParkingID {
			return false
		}
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		model := strings.ToLower(d.Model)
		serial := strings.ToLower(d.SerialNumber)
		if !strings.Contains(model, q) && !strings.Contains(serial, q) {
			return false
		}
	}
	return true
}

// enrich resolves the related parking and spot names for a page of
// devices. Parkings outside the caller's owned set render as
// unassigned.
func (s *DeviceService) enrich(ctx context.Context, devices []*Device, owned map[string]*Parking) ([]*DeviceView, error) {
	spotIDs := make([]string, 0, len(devices))
	for _, d := range devices {
		if d.ParkingSpotID != nil {
			spotIDs = append(spotIDs, *d.ParkingSpotID)
		}
	}

	spots := make(map[string]*ParkingSpot, len(spotIDs))
	if len(spotIDs) > 0 {
		found, err := s.stores.Spots.ListByIDs(ctx, spotIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load spots: %w", err)
		}
		for _, spot := range found {
			spots[spot.ID] = spot
		}
	}

	views := make([]*DeviceView, 0, len(devices))
	for _, d := range devices {
		views = append(views, buildView(d, owned, spots))
	}
	return views, nil
}

func buildView(d *Device, owned map[string]*Parking, spots map[string]*ParkingSpot) *DeviceView {
	view := &DeviceView{Device: *d, ParkingName: UnassignedParkingName}

	if d.ParkingID != nil {
		if parking, ok := owned[*d.ParkingID]; ok {
			view.ParkingName = parking.Name
		}
	}
	if d.ParkingSpotID != nil {
		if spot, ok := spots[*d.ParkingSpotID]; ok {
			label := spot.Label
			view.ParkingSpotLabel = &label
		}
	}
	if view.Model == "" {
		view.Model = DefaultModelName
	}
	if view.LastCheckIn.IsZero() {
		view.LastCheckIn = time.Now()
	}
	return view
}

// Get returns one enriched device, after the access check.
func (s *DeviceService) Get(ctx context.Context, userID, deviceID string) (*DeviceView, error) {
	device, err := s.stores.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, device); err != nil {
		return nil, err
	}

	owned, err := s.ownedParkings(ctx, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.enrich(ctx, []*Device{device}, owned)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// Create validates and provisions a new device owned by the caller.
func (s *DeviceService) Create(ctx context.Context, userID string, req CreateDeviceRequest) (*Device, error) {
	if req.SerialNumber == "" {
		return nil, ValidationError{Field: "serialNumber", Reason: "required"}
	}
	if req.Model == "" {
		return nil, ValidationError{Field: "model", Reason: "required"}
	}
	if req.Type == "" {
		return nil, ValidationError{Field: "type", Reason: "required"}
	}

	exists, err := s.stores.Devices.SerialExists(ctx, req.SerialNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to check serial number: %w", err)
	}
	if exists {
		return nil, ErrSerialNumberUsed
	}

	if req.ParkingID != nil {
		parking, err := s.stores.Parkings.GetByID(ctx, *req.ParkingID)
		if err != nil {
			return nil, AccessDeniedError{Resource: "parking", ID: *req.ParkingID}
		}
		if parking.OwnerID != userID {
			return nil, AccessDeniedError{Resource: "parking", ID: parking.ID}
		}

		if req.ParkingSpotID != nil {
			spot, err := s.stores.Spots.GetByID(ctx, *req.ParkingSpotID)
			if err != nil {
				return nil, ValidationError{Field: "parkingSpotId", Reason: "spot not found"}
			}
			if spot.ParkingID != *req.ParkingID {
				return nil, ErrSpotNotInParking
			}
		}
	} else if req.ParkingSpotID != nil {
		return nil, ValidationError{Field: "parkingSpotId", Reason: "requires parkingId"}
	}

	status := req.Status
	if status == "" {
		status = StatusOffline
	}

	token, err := utils.NewDeviceToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	device := &Device{
		ID:              uuid.New().String(),
		SerialNumber:    req.SerialNumber,
		Model:           req.Model,
		Type:            req.Type,
		Status:          status,
		Battery:         100,
		OwnerID:         userID,
		ParkingID:       req.ParkingID,
		ParkingSpotID:   req.ParkingSpotID,
		DeviceToken:     token,
		MQTTTopic:       s.deriveTopic(req.ParkingID, userID, req.SerialNumber),
		WebhookEndpoint: s.deriveWebhook(req.SerialNumber),
		LastCheckIn:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.stores.Devices.Create(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}

	s.publishEvent(ctx, EventDeviceCreated, device)
	s.logger.WithFields(logrus.Fields{
		"device_id": device.ID,
		"serial":    device.SerialNumber,
		"owner_id":  device.OwnerID,
	}).Info("Device created")

	return device, nil
}

func (s *DeviceService) deriveTopic(parkingID *string, userID, serial string) string {
	if parkingID != nil {
		return fmt.Sprintf("%s/parkings/%s/devices/%s", s.connectivity.TopicPrefix, *parkingID, serial)
	}
	return fmt.Sprintf("%s/users/%s/devices/%s", s.connectivity.TopicPrefix, userID, serial)
}

func (s *DeviceService) deriveWebhook(serial string) string {
	return fmt.Sprintf("%s/%s/telemetry", strings.TrimRight(s.connectivity.WebhookBaseURL, "/"), serial)
}

// Update applies a partial update. A supplied spot binding must
// resolve to a spot inside the device's current parking; an explicit
// null clears the binding.
func (s *DeviceService) Update(ctx context.Context, userID, deviceID string, req UpdateDeviceRequest) (*Device, error) {
	device, err := s.stores.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, device); err != nil {
		return nil, err
	}

	spotID, present, err := req.SpotBinding()
	if err != nil {
		return nil, ValidationError{Field: "parkingSpotId", Reason: "malformed"}
	}
	if present {
		if spotID == nil {
			device.ParkingSpotID = nil
		} else {
			spot, err := s.stores.Spots.GetByID(ctx, *spotID)
			if err != nil {
				return nil, ValidationError{Field: "parkingSpotId", Reason: "spot not found"}
			}
			if device.ParkingID == nil || spot.ParkingID != *device.ParkingID {
				return nil, ErrSpotNotInParking
			}
			device.ParkingSpotID = spotID
		}
	}

	if req.Model != nil {
		device.Model = *req.Model
	}
	if req.Type != nil {
		device.Type = *req.Type
	}
	if req.Status != nil {
		device.Status = *req.Status
	}
	device.UpdatedAt = time.Now()

	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}
	s.invalidateCache(ctx, device.SerialNumber)

	return device, nil
}

// Delete removes a device permanently. Missing ids are an error, not a
// no-op.
func (s *DeviceService) Delete(ctx context.Context, userID, deviceID string) error {
	device, err := s.stores.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, userID, device); err != nil {
		return err
	}

	if err := s.stores.Devices.Delete(ctx, deviceID); err != nil {
		return err
	}
	s.invalidateCache(ctx, device.SerialNumber)
	s.publishEvent(ctx, EventDeviceDeleted, device)

	s.logger.WithFields(logrus.Fields{
		"device_id": device.ID,
		"serial":    device.SerialNumber,
	}).Info("Device deleted")
	return nil
}

// SetMaintenance forces a device into the maintenance state.
func (s *DeviceService) SetMaintenance(ctx context.Context, userID, deviceID string) (*Device, error) {
	return s.transition(ctx, userID, deviceID, StatusMaintenance, EventDeviceMaintenance)
}

// Restore brings a device back online after maintenance.
func (s *DeviceService) Restore(ctx context.Context, userID, deviceID string) (*Device, error) {
	return s.transition(ctx, userID, deviceID, StatusOnline, EventDeviceRestored)
}

func (s *DeviceService) transition(ctx context.Context, userID, deviceID, status, event string) (*Device, error) {
	device, err := s.stores.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, device); err != nil {
		return nil, err
	}

	device.Status = status
	device.UpdatedAt = time.Now()
	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device status: %w", err)
	}
	s.invalidateCache(ctx, device.SerialNumber)
	s.publishEvent(ctx, event, device)

	return device, nil
}

// BulkCreate provisions a batch of devices under one parking. The
// batch is best-effort: entries that cannot be created are reported as
// warnings instead of failing the whole request.
func (s *DeviceService) BulkCreate(ctx context.Context, userID string, req BulkCreateRequest) (*BulkCreateResult, error) {
	if req.ParkingID == "" {
		return nil, ValidationError{Field: "parkingId", Reason: "required"}
	}
	parking, err := s.stores.Parkings.GetByID(ctx, req.ParkingID)
	if err != nil {
		return nil, AccessDeniedError{Resource: "parking", ID: req.ParkingID}
	}
	if parking.OwnerID != userID {
		return nil, AccessDeniedError{Resource: "parking", ID: parking.ID}
	}

	result := &BulkCreateResult{Created: []*Device{}, Warnings: []string{}}

	for _, entry := range req.Devices {
		if entry.SerialNumber == "" {
			result.Warnings = append(result.Warnings, "skipped device without serial number")
			continue
		}

		exists, err := s.stores.Devices.SerialExists(ctx, entry.SerialNumber)
		if err != nil {
			return nil, fmt.Errorf("failed to check serial number: %w", err)
		}
		if exists {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("serial number %s already registered, skipped", entry.SerialNumber))
			continue
		}

		var spotID *string
		if entry.SpotLabel != "" {
			spot, err := s.stores.Spots.GetByLabel(ctx, req.ParkingID, entry.SpotLabel)
			if err != nil {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("spot %q not found in parking, device %s created unbound", entry.SpotLabel, entry.SerialNumber))
			} else {
				spotID = &spot.ID
			}
		}

		token, err := utils.NewDeviceToken()
		if err != nil {
			return nil, err
		}

		now := time.Now()
		parkingID := req.ParkingID
		device := &Device{
			ID:              uuid.New().String(),
			SerialNumber:    entry.SerialNumber,
			Model:           entry.Model,
			Type:            entry.Type,
			Status:          StatusOffline,
			Battery:         100,
			OwnerID:         userID,
			ParkingID:       &parkingID,
			ParkingSpotID:   spotID,
			DeviceToken:     token,
			MQTTTopic:       s.deriveTopic(&parkingID, userID, entry.SerialNumber),
			WebhookEndpoint: s.deriveWebhook(entry.SerialNumber),
			LastCheckIn:     now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := s.stores.Devices.Create(ctx, device); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("failed to create device %s: %v", entry.SerialNumber, err))
			continue
		}

		s.publishEvent(ctx, EventDeviceCreated, device)
		result.Created = append(result.Created, device)
	}

	s.logger.WithFields(logrus.Fields{
		"parking_id": req.ParkingID,
		"created":    len(result.Created),
		"warnings":   len(result.Warnings),
	}).Info("Bulk device provisioning finished")

	return result, nil
}

// ReissueCredentials rotates a device token and recomputes the derived
// connection strings. The previous token stops being served; a single
// live token per device is assumed.
func (s *DeviceService) ReissueCredentials(ctx context.Context, userID, deviceID string) (*DeviceCredentials, error) {
	device, err := s.stores.Devices.GetByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, userID, device); err != nil {
		return nil, err
	}

	token, err := utils.NewDeviceToken()
	if err != nil {
		return nil, err
	}

	device.DeviceToken = token
	device.MQTTTopic = s.deriveTopic(device.ParkingID, device.OwnerID, device.SerialNumber)
	device.WebhookEndpoint = s.deriveWebhook(device.SerialNumber)
	device.UpdatedAt = time.Now()

	if err := s.stores.Devices.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to persist credentials: %w", err)
	}
	s.invalidateCache(ctx, device.SerialNumber)
	s.publishEvent(ctx, EventDeviceCredentials, device)

	return &DeviceCredentials{
		Token:           device.DeviceToken,
		MQTTTopic:       device.MQTTTopic,
		WebhookEndpoint: device.WebhookEndpoint,
	}, nil
}

// KPIs aggregates fleet health over the caller's visible devices.
func (s *DeviceService) KPIs(ctx context.Context, userID string) (*DeviceKPIs, error) {
	owned, err := s.ownedParkings(ctx, userID)
	if err != nil {
		return nil, err
	}
	parkingIDs := make([]string, 0, len(owned))
	for id := range owned {
		parkingIDs = append(parkingIDs, id)
	}

	devices, err := s.stores.Devices.ListVisible(ctx, userID, parkingIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	kpis := &DeviceKPIs{Total: len(devices)}
	batterySum := 0
	for _, d := range devices {
		switch d.Status {
		case StatusOnline:
			kpis.Online++
		case StatusOffline:
			kpis.Offline++
		case StatusMaintenance:
			kpis.Maintenance++
		}
		batterySum += d.Battery
		if d.Battery < BatteryCritical {
			kpis.CriticalBattery++
		}
		if d.Battery < BatteryLow {
			kpis.LowBattery++
		}
	}
	if kpis.Total > 0 {
		kpis.AverageBattery = float64(batterySum) / float64(kpis.Total)
	}
	return kpis, nil
}

func (s *DeviceService) invalidateCache(ctx context.Context, serial string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, deviceCacheKey(serial)); err != nil {
		s.logger.WithError(err).WithField("serial", serial).Warn("Failed to invalidate device cache")
	}
}

func (s *DeviceService) publishEvent(ctx context.Context, topic string, device *Device) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, device); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"topic":     topic,
			"device_id": device.ID,
		}).Warn("Failed to publish device event")
	}
}
