// services/ota/ota.go
package ota

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"canflow-go/bus"
	"canflow-go/errcode"
	"canflow-go/types"
	"canflow-go/wbp"
	"canflow-go/x/shmring"
)

// -----------------------------------------------------------------------------
// Session status
// -----------------------------------------------------------------------------

// Status is the OTA session state. Error states are terminal for the
// session; only Abort returns to Idle (Start* outside Idle fails with
// OTABusy).
type Status uint8

const (
	StatusIdle Status = iota
	StatusReceiving
	StatusValidating
	StatusApplying
	StatusSuccess
	StatusErrSpace
	StatusErrCrc
	StatusErrFlash
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusReceiving:
		return "receiving"
	case StatusValidating:
		return "validating"
	case StatusApplying:
		return "applying"
	case StatusSuccess:
		return "success"
	case StatusErrSpace:
		return "err_space"
	case StatusErrCrc:
		return "err_crc"
	case StatusErrFlash:
		return "err_flash"
	}
	return "unknown"
}

// Progress reports chunk intake.
type Progress struct {
	Received uint32
	Total    uint32
	Percent  uint8
}

type ProgressFunc func(Progress)
type CompleteFunc func(Status)

const (
	// ringSize buffers the delta patch stream between the controller
	// loop and the patch worker.
	ringSize = 8 * 1024
	// pageSize is the source page cache granule for delta reads.
	pageSize = 1024
)

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

// Service runs one OTA session at a time against the flash collaborator.
// All methods except the internal worker run on the controller loop.
type Service struct {
	log   zerolog.Logger
	flash types.Flash
	conn  *bus.Connection // optional progress sink

	status  Status
	isDelta bool

	expectedSize uint32
	expectedCRC  uint32
	sourceCRC    uint32
	received     uint32
	runCRC       uint32

	writer types.PartitionWriter

	ring       *shmring.Ring
	abortCh    chan struct{}
	workerDone chan struct{}

	deltaComplete atomic.Bool
	deltaResult   atomic.Uint32

	progressCb ProgressFunc
	completeCb CompleteFunc
}

// New creates the service. conn may be nil.
func New(flash types.Flash, log zerolog.Logger, conn *bus.Connection) *Service {
	return &Service{
		log:   log.With().Str("svc", "ota").Logger(),
		flash: flash,
		conn:  conn,
	}
}

// Begin pre-allocates the delta ring buffer.
func (s *Service) Begin() error {
	s.ring = shmring.New(ringSize)
	return nil
}

// Status returns the current session state.
func (s *Service) Status() Status { return s.status }

// NeedsPause reports whether the controller must stop CAN ingestion
// (flash-heavy phases).
func (s *Service) NeedsPause() bool {
	return s.status == StatusApplying || s.status == StatusValidating
}

// OnProgress registers the chunk progress callback.
func (s *Service) OnProgress(cb ProgressFunc) { s.progressCb = cb }

// OnComplete registers the terminal-state callback.
func (s *Service) OnComplete(cb CompleteFunc) { s.completeCb = cb }

// Abort tears the session down synchronously: stops the worker, drains
// the ring, releases the flash handle, returns to Idle. The module stays
// bootable to the running partition.
func (s *Service) Abort() {
	if s.status == StatusIdle {
		return
	}

	if s.workerDone != nil {
		close(s.abortCh)
		<-s.workerDone
		s.workerDone = nil
		s.abortCh = nil
	}

	if s.writer != nil {
		s.writer.Abort()
		s.writer = nil
	}
	if s.ring != nil {
		s.ring.Drain()
	}

	s.status = StatusIdle
	s.isDelta = false
	s.received = 0
	s.runCRC = 0
	s.deltaComplete.Store(false)

	s.log.Info().Msg("session aborted")
}

// -----------------------------------------------------------------------------
// Full image path
// -----------------------------------------------------------------------------

// StartFull opens a session that streams a complete image to the
// inactive partition.
func (s *Service) StartFull(expectedSize, crc uint32) error {
	if s.status != StatusIdle {
		return errcode.OTABusy
	}
	if int64(expectedSize) > s.flash.InactiveSize() {
		return errcode.OTASpace
	}

	w, err := s.flash.OpenInactive()
	if err != nil {
		return errcode.OTAFlash
	}

	s.writer = w
	s.expectedSize = expectedSize
	s.expectedCRC = crc
	s.received = 0
	s.runCRC = 0
	s.isDelta = false
	s.status = StatusReceiving

	s.log.Info().Uint32("size", expectedSize).Msg("full update started")
	return nil
}

// WriteChunk streams one chunk to the partition, tracking the running
// CRC. Overflow past the declared size is an error.
func (s *Service) WriteChunk(p []byte) error {
	if s.status != StatusReceiving || s.isDelta {
		return errcode.OTABusy
	}

	if s.received+uint32(len(p)) > s.expectedSize {
		s.fail(StatusErrSpace)
		return errcode.OTASpace
	}
	if _, err := s.writer.Write(p); err != nil {
		s.fail(StatusErrFlash)
		return errcode.OTAFlash
	}

	s.received += uint32(len(p))
	s.runCRC = wbp.CRC32Update(s.runCRC, p)
	s.notifyProgress()
	return nil
}

// FinalizeFull verifies the byte count and CRC, commits the partition
// and marks it bootable.
func (s *Service) FinalizeFull() error {
	if s.status != StatusReceiving || s.isDelta {
		return errcode.OTABusy
	}

	s.status = StatusValidating

	if s.received != s.expectedSize {
		s.fail(StatusErrSpace)
		return errcode.OTASpace
	}
	if s.runCRC != s.expectedCRC {
		s.fail(StatusErrCrc)
		return errcode.OTACrc
	}
	if err := s.writer.Close(); err != nil {
		s.writer = nil
		s.fail(StatusErrFlash)
		return errcode.OTAFlash
	}
	s.writer = nil
	if err := s.flash.MarkBootable(); err != nil {
		s.fail(StatusErrFlash)
		return errcode.OTAFlash
	}

	s.status = StatusSuccess
	s.notifyComplete(StatusSuccess)
	s.log.Info().Uint32("bytes", s.received).Msg("full update ready, reboot to apply")
	return nil
}

// -----------------------------------------------------------------------------
// Shared internals
// -----------------------------------------------------------------------------

// fail records a terminal error, releases the partition handle and
// notifies observers. The session stays in the error state until Abort.
func (s *Service) fail(st Status) {
	if s.writer != nil {
		s.writer.Abort()
		s.writer = nil
	}
	if s.ring != nil {
		s.ring.Drain()
	}
	s.status = st
	s.notifyComplete(st)
	s.log.Warn().Str("status", st.String()).Msg("session failed")
}

func (s *Service) notifyProgress() {
	p := Progress{Received: s.received, Total: s.expectedSize}
	if s.expectedSize > 0 {
		p.Percent = uint8(uint64(s.received) * 100 / uint64(s.expectedSize))
	}
	if s.progressCb != nil {
		s.progressCb(p)
	}
	if s.conn != nil {
		s.conn.Publish(&bus.Message{Topic: bus.Topic{"ota", "progress"}, Payload: p})
	}
}

func (s *Service) notifyComplete(st Status) {
	if s.completeCb != nil {
		s.completeCb(st)
	}
}
