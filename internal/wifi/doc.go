// Package wifi joins WiFi networks in station mode and brings up the
// fallback access point.
//
// Manager owns the connect policy: one join request, then a status check
// every PollInterval until the station is associated or the timeout has
// passed. There is no backoff. Radio hides the hardware; NMCLIRadio is the
// NetworkManager backend used on the device.
package wifi
