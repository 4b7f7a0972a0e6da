package lookup

import (
	"net"
	"strconv"

	"github.com/lbryio/go-dht/wire"
)

func decodeCompactTCPAddress(b []byte) (net.IP, uint16, error) {
	addr, port, err := wire.DecodeCompactAddress(b)
	if err != nil {
		return nil, 0, err
	}
	return net.IP(addr[:]), port, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
