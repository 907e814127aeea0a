package config

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"os"
)

// Listener represents one monitored protocol/port pair on a sensor. A bound
// listener reports every accepted connection to the collector. Depending on
// the protocol, the listener may additionally emulate the service to capture
// attacker interaction.
type Listener struct {
	Protocol   ProtocolType `xml:"protocol,attr"`
	Enabled    bool         `xml:"enabled"`
	Port       string       `xml:"port"`
	Banner     string       `xml:"banner"`
	KeyPath    string       `xml:"keyPath"`
	Prompts    []Prompt     `xml:"prompts>prompt"`
	LogPath    string       `xml:"logPath"`
	LogEnabled bool         `xml:"logEnabled"`
	LogFile    *os.File     `xml:"-"`
	Logger     *slog.Logger `xml:"-"`
}

// Prompt defines a text prompt used by telnet listeners. It displays the
// message, waits for client input, and logs the response. If multiple prompts
// are configured, they are displayed sequentially.
type Prompt struct {
	Text string `xml:",chardata"`

	// Log is an optional label used when logging the client's response. When
	// set to "none", the response is not logged.
	Log string `xml:"log,attr"`
}

// ProtocolType identifies the protocol monitored by a sensor listener. It
// determines the listener's default port, the protocol tag carried in
// reports, and which interaction capture handler runs after a connection is
// reported.
type ProtocolType int

const (
	SSH ProtocolType = iota
	Telnet
	RDP
)

// String returns the protocol tag used in reports and audit log entries.
func (t ProtocolType) String() string {
	return [...]string{"SSH", "TELNET", "RDP"}[t]
}

// DefaultPort returns the well-known port for the protocol.
func (t ProtocolType) DefaultPort() string {
	return [...]string{"22", "23", "3389"}[t]
}

// UnmarshalXMLAttr unmarshals the XML 'protocol' attribute from 'listener'
// elements into a ProtocolType.
//
// Example XML snippet:
// <listener protocol="ssh"><enabled>true</enabled></listener>
func (t *ProtocolType) UnmarshalXMLAttr(attr xml.Attr) error {
	switch attr.Value {
	case "ssh":
		*t = SSH
	case "telnet":
		*t = Telnet
	case "rdp":
		*t = RDP
	default:
		return fmt.Errorf("invalid listener protocol: %s", attr.Value)
	}
	return nil
}
