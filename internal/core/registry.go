package core

// Services bundles the service layer for the API handlers.
type Services struct {
	Devices   *DeviceService
	Telemetry *TelemetryService
}
