package config

import (
	"fmt"
	"net"
	"time"
)

// Duration wraps time.Duration. It is used to parse the custom duration format
// from YAML, e.g. `5s`, `1m` or `10m`.
type Duration time.Duration

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("cannot parse duration %q: %w", s, err)
	}
	if dur < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements the yaml.Marshaler interface.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// String implements the Stringer interface
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Networks is a list of IPNet entities
type Networks []*net.IPNet

// MarshalYAML implements the yaml.Marshaler interface.
func (n Networks) MarshalYAML() (interface{}, error) {
	s := make([]string, len(n))
	for i, ipnet := range n {
		s[i] = ipnet.String()
	}
	return s, nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (n *Networks) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s []string
	if err := unmarshal(&s); err != nil {
		return err
	}
	networks := make(Networks, len(s))
	for i, s := range s {
		ipnet, err := stringToIPnet(s)
		if err != nil {
			return err
		}
		networks[i] = ipnet
	}
	*n = networks
	return nil
}

// Contains checks whether passed addr is in the range of networks
func (n Networks) Contains(addr string) bool {
	if len(n) == 0 {
		return true
	}

	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		// addr may come without a port
		h = addr
	}

	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}

	for _, ipnet := range n {
		if ipnet.Contains(ip) {
			return true
		}
	}

	return false
}
