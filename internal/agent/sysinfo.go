// ABOUTME: Collects the machine description sent with every registration
// ABOUTME: gopsutil fills in host details, with runtime fallbacks when it cannot

package agent

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"

	"github.com/tetherlabs/tether/internal/protocol"
)

// capabilities is every operation this agent can service.
var capabilities = []string{
	protocol.OpReadFile,
	protocol.OpWriteFile,
	protocol.OpEditFile,
	protocol.OpDeleteFile,
	protocol.OpListDir,
	protocol.OpGlob,
	protocol.OpGrep,
	protocol.OpChangeDir,
	protocol.OpBash,
	protocol.OpExecute,
}

// collectSystemInfo describes the machine for the client's status display.
func collectSystemInfo(cwd string) protocol.SystemInfo {
	info := protocol.SystemInfo{
		OS:           runtime.GOOS,
		Machine:      runtime.GOARCH,
		Runtime:      runtime.Version(),
		Cwd:          cwd,
		Capabilities: capabilities,
	}

	if hi, err := host.Info(); err == nil {
		info.Hostname = hi.Hostname
		info.OSVersion = hi.PlatformVersion
		if hi.Platform != "" {
			info.OS = hi.Platform
		}
	}
	if info.Hostname == "" {
		if name, err := os.Hostname(); err == nil {
			info.Hostname = name
		}
	}
	return info
}
