package turnclient

import (
	"net"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMappedAddressNoServers(t *testing.T) {
	_, err := GetMappedAddress(nil, time.Second)
	assert.ErrorIs(t, err, ErrNoServers)
}

// fakeSTUNServer answers every binding request with a fixed
// XOR-MAPPED-ADDRESS attribute, standing in for a real STUN server.
func fakeSTUNServer(t *testing.T, reflexive *net.UDPAddr) string {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			req := &stun.Message{Raw: buf[:n]}
			if err := req.Decode(); err != nil {
				continue
			}
			resp, err := stun.Build(
				req,
				stun.BindingSuccess,
				&stun.XORMappedAddress{IP: reflexive.IP, Port: reflexive.Port},
			)
			if err != nil {
				continue
			}
			conn.WriteToUDP(resp.Raw, addr)
		}
	}()

	return conn.LocalAddr().String()
}

func TestGetMappedAddressParsesXORMappedAddress(t *testing.T) {
	reflexive := &net.UDPAddr{IP: net.IPv4(203, 0, 113, 5), Port: 4000}
	server := fakeSTUNServer(t, reflexive)

	mapped, err := GetMappedAddress([]string{server}, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, mapped.IP.Equal(reflexive.IP))
	assert.Equal(t, reflexive.Port, mapped.Port)
}

func TestIsBehindNATNilMapped(t *testing.T) {
	_, err := IsBehindNAT(nil)
	assert.ErrorIs(t, err, ErrNoMappedAddress)
}

func TestIsBehindNATTrueForForeignAddress(t *testing.T) {
	behind, err := IsBehindNAT(&net.UDPAddr{IP: net.IPv4(203, 0, 113, 9), Port: 1})
	require.NoError(t, err)
	assert.True(t, behind)
}
