package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNotWAV            = errors.New("not a RIFF/WAVE stream")
	ErrUnsupportedFormat = errors.New("unsupported WAV format")
)

// Format describes the fmt chunk of a decoded WAV stream.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRate)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// DecodeWAVPCM16LE reads a PCM WAV stream and returns its samples as PCM16LE
// mono. Stereo input is downmixed by averaging channels.
func DecodeWAVPCM16LE(r io.Reader) ([]byte, Format, error) {
	br := bufio.NewReader(r)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return nil, Format{}, ErrNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(br, hdr[:]); err != nil {
			return nil, Format{}, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, Format{}, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(body[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(body[14:16])),
			}
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE; the subformat is checked through bit depth only.
			if audioFormat != 1 && audioFormat != 0xFFFE {
				return nil, Format{}, fmt.Errorf("%w: encoding %d", ErrUnsupportedFormat, audioFormat)
			}
			if format.BitsPerSample != 16 {
				return nil, Format{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, format.BitsPerSample)
			}
			if format.Channels != 1 && format.Channels != 2 {
				return nil, Format{}, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, format.Channels)
			}
			if format.SampleRate <= 0 {
				return nil, Format{}, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, format.SampleRate)
			}
			haveFmt = true
			if size%2 == 1 {
				_, _ = br.Discard(1)
			}
		case "data":
			if !haveFmt {
				return nil, Format{}, fmt.Errorf("%w: data before fmt", ErrUnsupportedFormat)
			}
			// Streaming writers leave the size unset; read to EOF in that case.
			var data []byte
			var err error
			if size == 0 || size == 0xFFFFFFFF {
				data, err = io.ReadAll(br)
			} else {
				data = make([]byte, size)
				var n int
				n, err = io.ReadFull(br, data)
				if errors.Is(err, io.ErrUnexpectedEOF) {
					data, err = data[:n], nil
				}
			}
			if err != nil {
				return nil, Format{}, fmt.Errorf("wav: read data chunk: %w", err)
			}
			data = data[:len(data)-len(data)%(2*format.Channels)]
			if format.Channels == 2 {
				data = downmixStereo(data)
				format.Channels = 1
			}
			return data, format, nil
		default:
			skip := int(size) + int(size%2)
			if _, err := br.Discard(skip); err != nil {
				return nil, Format{}, fmt.Errorf("wav: skip %q chunk: %w", id, err)
			}
		}
	}
}

func downmixStereo(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i, o := 0, 0; i+3 < len(pcm); i, o = i+4, o+2 {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i+2:])))
		binary.LittleEndian.PutUint16(out[o:], uint16(int16((l+r)/2)))
	}
	return out
}
