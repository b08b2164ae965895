package gomoos

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// statusProbe samples this process' CPU load and resident memory.
type statusProbe struct {
	proc *process.Process
}

func newStatusProbe() *statusProbe {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.WithFields(log.Fields{"err": err}).Debug("Process stats unavailable")
		return &statusProbe{}
	}
	return &statusProbe{proc: p}
}

// sample returns CPU percent since the previous sample and resident memory in KB.
func (p *statusProbe) sample() (cpu float64, memKB uint64) {
	if p.proc == nil {
		return 0, 0
	}
	if v, err := p.proc.Percent(0); err == nil {
		cpu = v
	}
	if mi, err := p.proc.MemoryInfo(); err == nil {
		memKB = mi.RSS / 1024
	}
	return
}
