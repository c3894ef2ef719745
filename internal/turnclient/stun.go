package turnclient

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

// GetMappedAddress sends a STUN binding request to the first server in
// servers that answers, and returns the server-reflexive address.
//
// This mirrors the teacher's hand-rolled STUN client shape (raw UDP,
// XOR-MAPPED-ADDRESS parsing via pion/stun's attribute decoder) rather
// than going through pion/turn/v4's client, since the TURN client only
// performs a STUN binding implicitly as part of Listen/Allocate and
// this operation must be usable standalone, before any allocation
// exists.
func GetMappedAddress(servers []string, timeout time.Duration) (*net.UDPAddr, error) {
	if len(servers) == 0 {
		return nil, ErrNoServers
	}

	var lastErr error
	for _, server := range servers {
		addr, err := bindingRequest(server, timeout)
		if err == nil {
			return addr, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("turnclient: all STUN servers failed: %w", lastErr)
}

func bindingRequest(server string, timeout time.Duration) (*net.UDPAddr, error) {
	conn, err := net.Dial("udp4", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(msg.Raw); err != nil {
		return nil, err
	}

	buf := make([]byte, 1500)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}

	resp := &stun.Message{Raw: buf[:n]}
	if err := resp.Decode(); err != nil {
		return nil, err
	}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(resp); err != nil {
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(resp); err != nil {
			return nil, ErrNoMappedAddress
		}
		return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
	}
	return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
}

// IsBehindNAT reports whether mapped differs from every address bound
// to a local, non-loopback interface — i.e. whether the reflexive
// address the STUN server observed is not one of our own interfaces.
func IsBehindNAT(mapped *net.UDPAddr) (bool, error) {
	if mapped == nil {
		return false, ErrNoMappedAddress
	}
	ifaceAddrs, err := net.InterfaceAddrs()
	if err != nil {
		return false, err
	}
	for _, a := range ifaceAddrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ipNet.IP.Equal(mapped.IP) {
			return false, nil
		}
	}
	return true, nil
}
