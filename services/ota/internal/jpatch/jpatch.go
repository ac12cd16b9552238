// Package jpatch applies a byte-oriented binary patch over three
// streams: a seekable source (the running image), a forward-only patch
// stream, and a forward-only target (the new image).
//
// Patch grammar (JojoDiff lineage). The stream is a flat sequence of
// operations; plain bytes are modifications, ESC introduces an opcode:
//
//	b            (b != ESC)      write b to target, advance source by 1
//	ESC ESC                      literal ESC data byte, as above
//	ESC EQL <len>                copy <len> bytes source -> target
//	ESC DEL <len>                skip <len> source bytes
//	ESC INS <len> <len bytes>    write following patch bytes to target
//	ESC BKT <off>                seek source backwards by <off>
//
// <len>/<off> are unsigned LEB128 varints. The patch ends at EOF of the
// patch stream; any truncated operation is an error.
package jpatch

import (
	"errors"
	"io"
)

// Opcode bytes.
const (
	opESC = 0xA7
	opEQL = 0xA3
	opDEL = 0xA4
	opINS = 0xA5
	opBKT = 0xA2
)

// Seek origins (stdio convention).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Stream is the stdio-shaped boundary the patcher drives. Source
// streams implement Read/Seek/Tell; the patch stream implements Read;
// the target implements Write. Unused directions may error.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Seek(offset int64, whence int) error
	Tell() int64
}

var (
	ErrTruncatedPatch = errors.New("jpatch: truncated operation")
	ErrBadVarint      = errors.New("jpatch: malformed length")
)

// copyChunk bounds the scratch buffer used for EQL/DEL/INS runs.
const copyChunk = 256

type patcher struct {
	source Stream
	patch  Stream
	target Stream

	buf  [copyChunk]byte
	rbuf [1]byte
}

// Patch applies the patch stream to source, writing the result to
// target. On error the target is left partially written; the caller
// owns cleanup.
func Patch(source, patch, target Stream) error {
	p := &patcher{source: source, patch: patch, target: target}
	return p.run()
}

func (p *patcher) run() error {
	for {
		b, err := p.readPatchByte()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if b != opESC {
			if err := p.modify(b); err != nil {
				return err
			}
			continue
		}

		op, err := p.readPatchByte()
		if err != nil {
			return ErrTruncatedPatch
		}
		switch op {
		case opESC:
			if err := p.modify(opESC); err != nil {
				return err
			}
		case opEQL:
			n, err := p.readVarint()
			if err != nil {
				return err
			}
			if err := p.copyFromSource(n); err != nil {
				return err
			}
		case opDEL:
			n, err := p.readVarint()
			if err != nil {
				return err
			}
			if err := p.source.Seek(int64(n), SeekCur); err != nil {
				return err
			}
		case opINS:
			n, err := p.readVarint()
			if err != nil {
				return err
			}
			if err := p.insertFromPatch(n); err != nil {
				return err
			}
		case opBKT:
			n, err := p.readVarint()
			if err != nil {
				return err
			}
			if err := p.source.Seek(-int64(n), SeekCur); err != nil {
				return err
			}
		default:
			return ErrTruncatedPatch
		}
	}
}

// modify writes one replacement byte and advances the source cursor.
func (p *patcher) modify(b byte) error {
	p.rbuf[0] = b
	if _, err := p.target.Write(p.rbuf[:1]); err != nil {
		return err
	}
	return p.source.Seek(1, SeekCur)
}

func (p *patcher) copyFromSource(n uint64) error {
	for n > 0 {
		chunk := uint64(copyChunk)
		if n < chunk {
			chunk = n
		}
		got, err := io.ReadFull(readerOf(p.source), p.buf[:chunk])
		if err != nil {
			return err
		}
		if _, err := p.target.Write(p.buf[:got]); err != nil {
			return err
		}
		n -= uint64(got)
	}
	return nil
}

func (p *patcher) insertFromPatch(n uint64) error {
	for n > 0 {
		chunk := uint64(copyChunk)
		if n < chunk {
			chunk = n
		}
		got, err := io.ReadFull(readerOf(p.patch), p.buf[:chunk])
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ErrTruncatedPatch
			}
			return err
		}
		if _, err := p.target.Write(p.buf[:got]); err != nil {
			return err
		}
		n -= uint64(got)
	}
	return nil
}

func (p *patcher) readPatchByte() (byte, error) {
	n, err := p.patch.Read(p.rbuf[:1])
	if n == 1 {
		return p.rbuf[0], nil
	}
	if err == nil {
		err = io.EOF
	}
	return 0, err
}

// readVarint decodes an unsigned LEB128 length from the patch stream.
func (p *patcher) readVarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := p.readPatchByte()
		if err != nil {
			return 0, ErrTruncatedPatch
		}
		if shift >= 64 {
			return 0, ErrBadVarint
		}
		v |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
}

// readerOf adapts a Stream's Read side to io.Reader for io.ReadFull.
func readerOf(s Stream) io.Reader { return readAdapter{s} }

type readAdapter struct{ s Stream }

func (r readAdapter) Read(p []byte) (int, error) { return r.s.Read(p) }
