// services/ota/delta.go
package ota

import (
	"errors"
	"io"
	"time"

	"canflow-go/errcode"
	"canflow-go/services/ota/internal/jpatch"
	"canflow-go/types"
	"canflow-go/x/shmring"
)

// Delta path: the controller loop produces patch bytes into the ring;
// the worker consumes them, reads the running image through a page
// cache, and writes the new image to the inactive partition. The only
// state crossing the task boundary is the ring and the two atomics.

// producerTimeout bounds how long WriteDeltaChunk waits for ring space.
const producerTimeout = 1 * time.Second

// StartDelta opens a delta session. sourceCRC identifies the image the
// patch was produced against; it is recorded for diagnostics.
func (s *Service) StartDelta(patchSize, sourceCRC uint32) error {
	if s.status != StatusIdle {
		return errcode.OTABusy
	}

	w, err := s.flash.OpenInactive()
	if err != nil {
		return errcode.OTAFlash
	}

	s.writer = w
	s.expectedSize = patchSize
	s.sourceCRC = sourceCRC
	s.received = 0
	s.runCRC = 0
	s.isDelta = true
	s.deltaComplete.Store(false)
	s.deltaResult.Store(uint32(StatusIdle))
	s.ring.Drain()
	s.status = StatusReceiving

	s.log.Info().Uint32("patch_size", patchSize).Msg("delta update started")
	return nil
}

// WriteDeltaChunk pushes patch bytes into the ring, blocking up to one
// second for space.
func (s *Service) WriteDeltaChunk(p []byte) error {
	if s.status != StatusReceiving || !s.isDelta {
		return errcode.OTABusy
	}

	deadline := time.NewTimer(producerTimeout)
	defer deadline.Stop()

	total := uint32(len(p))
	for len(p) > 0 {
		n := s.ring.TryWriteFrom(p)
		p = p[n:]
		if len(p) == 0 {
			break
		}
		select {
		case <-s.ring.Writable():
		case <-deadline.C:
			s.fail(StatusErrSpace)
			return errcode.OTASpace
		}
	}

	s.received += total
	s.notifyProgress()
	return nil
}

// FinalizeDelta starts the background patch worker. Completion is
// observed by Poll through the atomics.
func (s *Service) FinalizeDelta() error {
	if s.status != StatusReceiving || !s.isDelta {
		return errcode.OTABusy
	}

	s.status = StatusApplying
	s.abortCh = make(chan struct{})
	s.workerDone = make(chan struct{})

	go s.runWorker(s.writer, s.expectedSize)

	s.log.Info().Msg("patch worker started")
	return nil
}

// Poll transitions Applying to its terminal state once the worker is
// done. Call once per loop iteration.
func (s *Service) Poll() {
	if s.status != StatusApplying || !s.deltaComplete.Load() {
		return
	}

	<-s.workerDone
	s.workerDone = nil
	s.abortCh = nil
	s.writer = nil // worker released it
	s.deltaComplete.Store(false)

	st := Status(s.deltaResult.Load())
	s.status = st
	s.notifyComplete(st)
	if st == StatusSuccess {
		s.log.Info().Msg("delta update ready, reboot to apply")
	} else {
		s.log.Warn().Str("status", st.String()).Msg("delta update failed")
	}
}

// runWorker owns the partition writer from start to finish.
func (s *Service) runWorker(w types.PartitionWriter, patchLen uint32) {
	defer close(s.workerDone)

	src := &sourceStream{flash: s.flash, size: s.flash.RunningSize()}
	patch := &patchStream{ring: s.ring, remaining: int64(patchLen), abort: s.abortCh}
	target := &targetStream{w: w}

	if err := jpatch.Patch(src, patch, target); err != nil {
		w.Abort()
		s.deltaResult.Store(uint32(StatusErrFlash))
		s.deltaComplete.Store(true)
		return
	}

	if err := w.Close(); err != nil {
		s.deltaResult.Store(uint32(StatusErrFlash))
		s.deltaComplete.Store(true)
		return
	}
	if err := s.flash.MarkBootable(); err != nil {
		s.deltaResult.Store(uint32(StatusErrFlash))
		s.deltaComplete.Store(true)
		return
	}

	s.deltaResult.Store(uint32(StatusSuccess))
	s.deltaComplete.Store(true)
}

// -----------------------------------------------------------------------------
// Patch streams
// -----------------------------------------------------------------------------

var errAborted = errors.New("ota: session aborted")

// sourceStream reads the running image through a one-page cache that is
// invalidated on every seek.
type sourceStream struct {
	flash  types.Flash
	size   int64
	offset int64

	page       [pageSize]byte
	cachedPage int64
	cacheValid bool
}

func (s *sourceStream) Read(p []byte) (int, error) {
	if s.offset >= s.size {
		return 0, io.EOF
	}
	pageIdx := s.offset / pageSize
	if !s.cacheValid || s.cachedPage != pageIdx {
		n, err := s.flash.ReadRunning(pageIdx*pageSize, s.page[:])
		if err != nil || n == 0 {
			return 0, errcode.OTAFlash
		}
		s.cachedPage = pageIdx
		s.cacheValid = true
	}

	pageOff := s.offset % pageSize
	n := copy(p, s.page[pageOff:])
	if max := s.size - s.offset; int64(n) > max {
		n = int(max)
	}
	s.offset += int64(n)
	return n, nil
}

func (s *sourceStream) Write([]byte) (int, error) { return 0, errcode.OTAFlash }

func (s *sourceStream) Seek(offset int64, whence int) error {
	switch whence {
	case jpatch.SeekSet:
		s.offset = offset
	case jpatch.SeekCur:
		s.offset += offset
	case jpatch.SeekEnd:
		s.offset = s.size + offset
	}
	s.cacheValid = false
	return nil
}

func (s *sourceStream) Tell() int64 { return s.offset }

// patchStream reads the forward-only patch bytes from the ring,
// blocking on the readable edge with no timeout. remaining bounds the
// stream so the patcher sees EOF at the declared patch size.
type patchStream struct {
	ring      *shmring.Ring
	remaining int64
	offset    int64
	abort     <-chan struct{}
}

func (s *patchStream) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	for {
		n := s.ring.TryReadInto(p)
		if n > 0 {
			s.remaining -= int64(n)
			s.offset += int64(n)
			return n, nil
		}
		select {
		case <-s.ring.Readable():
		case <-s.abort:
			return 0, errAborted
		}
	}
}

func (s *patchStream) Write([]byte) (int, error) { return 0, errcode.OTAFlash }
func (s *patchStream) Seek(int64, int) error     { return errcode.OTAFlash }
func (s *patchStream) Tell() int64               { return s.offset }

// targetStream writes the new image forward-only.
type targetStream struct {
	w      types.PartitionWriter
	offset int64
}

func (s *targetStream) Read([]byte) (int, error) { return 0, errcode.OTAFlash }

func (s *targetStream) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.offset += int64(n)
	if err != nil {
		return n, errcode.OTAFlash
	}
	return n, nil
}

func (s *targetStream) Seek(int64, int) error { return errcode.OTAFlash }
func (s *targetStream) Tell() int64           { return s.offset }
