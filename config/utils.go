package config

import (
	"fmt"
	"net"
	"strings"
)

// stringToIPnet parses an address or a subnet. A bare address becomes a
// single-host network.
func stringToIPnet(s string) (*net.IPNet, error) {
	cidr := s
	if !strings.Contains(cidr, "/") {
		if strings.Contains(cidr, ":") {
			cidr += "/128"
		} else {
			cidr += "/32"
		}
	}
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("wrong network group name or address %q: %w", s, err)
	}
	if ones, _ := ipnet.Mask.Size(); ones == 0 {
		return nil, fmt.Errorf("suspicious mask specified %q. "+
			"If you want to allow all then just omit `allowed_networks` field", s)
	}
	return ipnet, nil
}
