package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
)

// UDP is a Conn over IPv4 multicast. The receive socket joins the
// role's own group; a single unbound socket sends to peer groups.
type UDP struct {
	recv   *net.UDPConn
	send   *net.UDPConn
	groups map[string]*net.UDPAddr

	mu     sync.Mutex
	closed bool
}

// ListenUDP joins the multicast group of the given role and opens the
// send socket. The returned Conn is ready for Recv and Send.
func ListenUDP(cfg *config.Config, role string) (*UDP, error) {
	group, ok := cfg.Groups[role]
	if !ok {
		return nil, errors.Errorf("transport: no group for role %q", role)
	}
	recv, err := net.ListenMulticastUDP("udp4", nil, group.UDPAddr())
	if err != nil {
		return nil, errors.Wrapf(err, "transport: join %s", group)
	}
	if err := recv.SetReadBuffer(MaxDatagram); err != nil {
		recv.Close()
		return nil, errors.Wrap(err, "transport: read buffer")
	}
	send, err := net.ListenUDP("udp4", nil)
	if err != nil {
		recv.Close()
		return nil, errors.Wrap(err, "transport: send socket")
	}
	groups := make(map[string]*net.UDPAddr, len(cfg.Groups))
	for name, g := range cfg.Groups {
		groups[name] = g.UDPAddr()
	}
	return &UDP{recv: recv, send: send, groups: groups}, nil
}

func (u *UDP) Recv() ([]byte, error) {
	buf := make([]byte, MaxDatagram)
	n, _, err := u.recv.ReadFromUDP(buf)
	if err != nil {
		u.mu.Lock()
		closed := u.closed
		u.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, errors.Wrap(err, "transport: recv")
	}
	return buf[:n], nil
}

func (u *UDP) Send(group string, payload []byte) error {
	addr, ok := u.groups[group]
	if !ok {
		return errors.Errorf("transport: no group for role %q", group)
	}
	if _, err := u.send.WriteToUDP(payload, addr); err != nil {
		return errors.Wrapf(err, "transport: send to %s", group)
	}
	return nil
}

func (u *UDP) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()
	err := u.recv.Close()
	if serr := u.send.Close(); err == nil {
		err = serr
	}
	return err
}
