// Package transport registers the built-in stream types.
package transport

import (
	"github.com/michieltjampens/dcafs-sub002/stream"
	"github.com/michieltjampens/dcafs-sub002/transport/local"
	"github.com/michieltjampens/dcafs-sub002/transport/serial"
	"github.com/michieltjampens/dcafs-sub002/transport/tcp"
	"github.com/michieltjampens/dcafs-sub002/transport/udp"
	"github.com/michieltjampens/dcafs-sub002/transport/websocket"
)

// RegisterAll adds every built-in transport to reg
func RegisterAll(reg *stream.Registry) error {
	for _, r := range []stream.RegistrationConfig{
		{Name: tcp.Type, Factory: tcp.New, Description: "TCP client, address host:port"},
		{Name: udp.Type, Factory: udp.New, Description: "UDP client or listener (listen:true)"},
		{Name: serial.Type, Factory: serial.New, Description: "Serial port, address is the port name"},
		{Name: websocket.Type, Factory: websocket.New, Description: "WebSocket client, address ws:// or wss:// url"},
		{Name: local.Type, Factory: local.New, Description: "Loops written data back to its targets"},
	} {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}
