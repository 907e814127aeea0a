package sensor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"

	"github.com/r-smith/decoywire/internal/config"
)

// capturePrompts emulates a line-based login exchange on a telnet listener.
// The configured banner and prompts are written one at a time and each
// response is recorded. The exchange ends after the final prompt or when the
// client stops sending lines.
func capturePrompts(conn net.Conn, cfg *config.Listener, srcIP string) {
	// Listener banners and prompts use "\n" in the configuration, but
	// clients expect CRLF line endings on the wire.
	if banner := strings.ReplaceAll(cfg.Banner, "\\n", "\r\n"); len(banner) > 0 {
		_, _ = conn.Write([]byte(banner))
	}

	scanner := bufio.NewScanner(conn)
	responses := make(map[string]string, len(cfg.Prompts))
	for i, prompt := range cfg.Prompts {
		if _, err := conn.Write([]byte(strings.ReplaceAll(prompt.Text, "\\n", "\r\n"))); err != nil {
			break
		}
		if !scanner.Scan() {
			break
		}

		// Each prompt includes an optional log attribute that serves as the
		// key for recording the response. A log attribute of "none" displays
		// the prompt but discards the response. An omitted log attribute
		// falls back to the key "data00", where "00" is the prompt number.
		if prompt.Log == "none" {
			continue
		}
		key := prompt.Log
		if len(key) == 0 {
			key = fmt.Sprintf("data%02d", i+1)
		}
		responses[key] = scanner.Text()
	}

	// Without configured prompts, record one line of whatever the client
	// chooses to send.
	if len(cfg.Prompts) == 0 && scanner.Scan() {
		responses["data"] = scanner.Text()
	}

	// Don't log clients that sent nothing.
	provided := false
	for _, v := range responses {
		if len(v) > 0 {
			provided = true
			break
		}
	}
	if !provided {
		return
	}

	dstIP, dstPort, _ := net.SplitHostPort(conn.LocalAddr().String())
	cfg.Logger.LogAttrs(context.Background(), slog.LevelInfo, "",
		slog.String("event_type", "telnet"),
		slog.String("source_ip", srcIP),
		slog.String("sensor_ip", dstIP),
		slog.String("sensor_port", dstPort),
		slog.String("sensor_name", config.Hostname),
		slog.Any("event_details", responses),
	)

	// Print a simplified version of the exchange to the console.
	fmt.Printf("[TELNET] %s %q\n", srcIP, responsesToString(responses))
}

// responsesToString converts a map of prompt responses into a single string
// formatted as "key:value key:value ...", sorted by key.
func responsesToString(responses map[string]string) string {
	keys := make([]string, 0, len(responses))
	for key := range responses {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s:%s", key, responses[key]))
	}
	return strings.Join(pairs, " ")
}
