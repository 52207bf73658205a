package session

import (
	"fmt"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"isUsb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts enumerates serial ports with USB metadata where available. If the
// detailed enumerator fails, it falls back to plain port names.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(ports)

		return ports, nil
	}

	names, listErr := serial.GetPortsList()
	if listErr != nil {
		return nil, fmt.Errorf("session: list ports: %w (detailed: %v)", listErr, err)
	}

	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}
	sortPorts(ports)

	return ports, nil
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}
