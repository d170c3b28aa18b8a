//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

// gracefulSignals are the signals that start a graceful shutdown. Only
// os.Interrupt (CTRL_C_EVENT) is delivered on Windows.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive opens a query handle on the process and checks whether it
// has exited.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer func() { _ = windows.CloseHandle(handle) }()

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == stillActive
}

// sendGracefulStop terminates the process. Windows has no SIGTERM, so the
// server gets no chance to close its upstream session.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
