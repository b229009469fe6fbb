package cryptenable

import (
	"time"

	"github.com/voltaic/blockcryptd/interfaces"
)

const (
	// settleDelay gives the freshly mounted filesystem a moment before the
	// init system is signaled.
	settleDelay = 2 * time.Second

	// dataPrepTimeout bounds the wait for data-area preparation. Usually it
	// takes far less.
	dataPrepTimeout = 50 * time.Second
)

// postMount is the asynchronous post-mount sequence: settle, reload
// persisted properties, wait for data-area preparation, then restart the
// framework services. It runs detached from the triggering operation and
// never reports back; a preparation timeout is logged, and recovery for that
// stage belongs to the init system.
//
// Data preparation results in the init system calling back into this daemon,
// so this must never run on a caller's request path.
func (s *Service) postMount() {
	s.log.Debug("Asynchronously restarting framework")
	<-s.clock.After(settleDelay)

	s.setProp(interfaces.PropDecrypt, interfaces.TriggerLoadPersistProps)

	if err := s.prepDataArea(); err != nil {
		s.log.Error("Data preparation did not complete", "err", err)
		return
	}

	// Startup of the main and late-start service classes.
	s.setProp(interfaces.PropDecrypt, interfaces.TriggerRestartFramework)
}

// prepDataArea asks the init system to prepare the data area and polls the
// completion flag.
func (s *Service) prepDataArea() error {
	s.setProp(interfaces.PropPostFSDataDone, "0")
	s.setProp(interfaces.PropDecrypt, interfaces.TriggerPostFSData)

	s.log.Debug("Waiting for data preparation")
	if err := s.props.WaitFor(interfaces.PropPostFSDataDone, "1", dataPrepTimeout); err != nil {
		return err
	}
	s.log.Info("Data preparation complete")
	return nil
}
