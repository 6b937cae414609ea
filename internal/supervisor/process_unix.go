//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	log "github.com/sirupsen/logrus"
)

// configureProcessGroup puts the child in its own process group so that
// killProcessGroup can terminate the whole tree it spawns, not just its
// immediate leader (spec §5).
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGTERM to the negative PID, which POSIX
// delivers to every process in the group rooted at cmd's leader.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	logDescendants(pgid)
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
}

// logDescendants walks the live process table for diagnostic logging of
// what's about to be terminated; best-effort, never fatal.
func logDescendants(pgid int) {
	procs, err := gopsproc.Processes()
	if err != nil {
		return
	}
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil || int(ppid) != pgid {
			continue
		}
		name, _ := p.Name()
		log.WithFields(log.Fields{"pid": p.Pid, "name": name, "pgid": pgid}).
			Debug("supervisor: descendant process being terminated with its group")
	}
}
