package netlink

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// ClientIDPrefix starts every generated client id.
const ClientIDPrefix = "meshcore-"

// ClientID derives a stable client id from the last three bytes of the first
// hardware address on the host. Hosts without one get a random suffix.
func ClientID() string {
	ifaces, _ := net.Interfaces()
	return clientIDFrom(ifaces)
}

// clientIDFromMAC formats the id from the last three bytes of mac, or
// returns "" when mac is shorter than that.
func clientIDFromMAC(mac net.HardwareAddr) string {
	if len(mac) < 3 {
		return ""
	}
	tail := mac[len(mac)-3:]
	return fmt.Sprintf("%s%02X%02X%02X", ClientIDPrefix, tail[0], tail[1], tail[2])
}

func clientIDFrom(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) < 6 {
			continue
		}
		return clientIDFromMAC(iface.HardwareAddr)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return ClientIDPrefix + strings.ToUpper(id[:6])
}
