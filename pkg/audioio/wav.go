package audioio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// WAV header layout for 16-bit PCM.
const (
	wavHeaderSize    = 44
	wavFormatPCM     = 1
	wavBitsPerSample = 16
)

// WAVWriter writes PCM16 mono audio to a WAV file. Sizes in the header are
// patched on Close.
type WAVWriter struct {
	file       *os.File
	sampleRate uint32
	dataBytes  uint32
}

// CreateWAV creates filename and writes a provisional header.
func CreateWAV(filename string, sampleRate int) (*WAVWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("audioio: create wav: %w", err)
	}

	w := &WAVWriter{file: file, sampleRate: uint32(sampleRate)}
	if err := writeWAVHeader(file, w.sampleRate, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("audioio: write wav header: %w", err)
	}
	return w, nil
}

// Write appends raw PCM16 bytes.
func (w *WAVWriter) Write(pcm []byte) (int, error) {
	if w.file == nil {
		return 0, os.ErrClosed
	}
	n, err := w.file.Write(pcm)
	w.dataBytes += uint32(n)
	return n, err
}

// Close finalizes the header and closes the file.
func (w *WAVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil

	var errs []error
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		errs = append(errs, fmt.Errorf("audioio: seek wav header: %w", err))
	} else if err := writeWAVHeader(f, w.sampleRate, w.dataBytes); err != nil {
		errs = append(errs, fmt.Errorf("audioio: finalize wav header: %w", err))
	}
	if err := f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func writeWAVHeader(w io.Writer, sampleRate, dataBytes uint32) error {
	const channels = 1
	blockAlign := uint16(channels * wavBitsPerSample / 8)
	byteRate := sampleRate * uint32(blockAlign)

	header := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     wavHeaderSize - 8 + dataBytes,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   wavFormatPCM,
		Channels:      channels,
		SampleRate:    sampleRate,
		ByteRate:      byteRate,
		BlockAlign:    blockAlign,
		BitsPerSample: wavBitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataBytes,
	}
	return binary.Write(w, binary.LittleEndian, header)
}
