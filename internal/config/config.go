// Package config loads the cluster layout: one UDP multicast group per
// role, plus an optional failure bound.
package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Role names as they appear in the configuration file. Each names the
// multicast group its processes listen on.
const (
	Clients   = "clients"
	Proposers = "proposers"
	Acceptors = "acceptors"
	Learners  = "learners"
)

// DefaultAcceptors is the cluster size assumed when the configuration
// does not carry an explicit failure bound.
const DefaultAcceptors = 3

var roles = []string{Clients, Proposers, Acceptors, Learners}

// Group is one role's multicast endpoint.
type Group struct {
	Host string
	Port int
}

// UDPAddr resolves the group to a UDP address.
func (g Group) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(g.Host), Port: g.Port}
}

func (g Group) String() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// Config maps each role to its group. F, when nonzero, is the tolerated
// acceptor failure bound and implies a cluster of 2F+1 acceptors.
type Config struct {
	Groups map[string]Group
	F      int
}

// Load parses a configuration file of `<role> <host> <port>` lines.
// A `f <n>` line optionally sets the failure bound. All four role
// groups must be present.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open")
	}
	defer f.Close()

	cfg := &Config{Groups: make(map[string]Group)}
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		switch {
		case len(fields) == 0:
			continue
		case len(fields) == 2 && fields[0] == "f":
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return nil, errors.Errorf("config: line %d: bad failure bound %q", line, fields[1])
			}
			cfg.F = n
		case len(fields) == 3:
			port, err := strconv.Atoi(fields[2])
			if err != nil || port <= 0 || port > 65535 {
				return nil, errors.Errorf("config: line %d: bad port %q", line, fields[2])
			}
			cfg.Groups[fields[0]] = Group{Host: fields[1], Port: port}
		default:
			return nil, errors.Errorf("config: line %d: expected `<role> <host> <port>`", line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	for _, role := range roles {
		if _, ok := cfg.Groups[role]; !ok {
			return nil, errors.Errorf("config: missing group for role %q", role)
		}
	}
	return cfg, nil
}

// Acceptors reports the acceptor cluster size.
func (c *Config) Acceptors() int {
	if c.F > 0 {
		return 2*c.F + 1
	}
	return DefaultAcceptors
}

// Quorum reports the majority size for the configured cluster.
func (c *Config) Quorum() int {
	return c.Acceptors()/2 + 1
}
