// Package discovery advertises and finds drowsiwatch devices with mDNS.
//
// Once a device is online it registers its streaming service as
// "_drowsiwatch._tcp" in "local.", with the build version in the TXT
// record. Operators find devices with a Scanner:
//
//	devices, err := discovery.NewScanner().Scan(ctx)
//	for _, d := range devices {
//	    fmt.Println(d.Instance, d.Addr(), d.Version())
//	}
//
// # Network Requirements
//
// - Requires multicast support on the network interface
// - Devices must be on the same local network segment
// - Firewall must allow mDNS (UDP port 5353)
package discovery
