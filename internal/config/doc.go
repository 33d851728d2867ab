// Package config loads the device settings file for drowsiwatch.
//
// Settings are read from a YAML file, /etc/drowsiwatch/drowsiwatch.yaml by
// default. A missing file is not an error: every field has a default that
// matches the stock camera board. Fields present in the file override the
// defaults; fields left out keep them.
//
// # Example
//
//	version: 1
//	data_dir: /var/lib/drowsiwatch
//	wifi:
//	  interface: wlan0
//	  connect_timeout: 15s
//	stream:
//	  port: 1024
//	actuator:
//	  driver: gpio
//	  chip: gpiochip0
//	  line: 18
//
// # Security
//
// WiFi credentials are NOT kept here. They live in the credential record
// under data_dir, written by the captive portal.
package config
