package audio

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// ErrNotWAV is returned when data is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

const wavFormatPCM = 1

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE file.
// Only uncompressed 16-bit PCM is accepted; anything else would need transcoding.
func DecodeWAV(data []byte) (Clip, error) {
	r := bytes.NewReader(data)

	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return Clip{}, errors.Wrap(ErrNotWAV, err.Error())
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return Clip{}, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Clip{}, errors.New("wav: missing data chunk")
			}
			return Clip{}, errors.Wrap(err, "wav: failed to read chunk header")
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var fmtChunk struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if chunk.Size < 16 {
				return Clip{}, errors.Newf("wav: fmt chunk too short (%d bytes)", chunk.Size)
			}
			if err := binary.Read(r, binary.LittleEndian, &fmtChunk); err != nil {
				return Clip{}, errors.Wrap(err, "wav: failed to read fmt chunk")
			}
			if fmtChunk.AudioFormat != wavFormatPCM {
				return Clip{}, errors.Newf("wav: unsupported encoding %d", fmtChunk.AudioFormat)
			}
			if fmtChunk.BitsPerSample != 16 {
				return Clip{}, errors.Newf("wav: unsupported bit depth %d", fmtChunk.BitsPerSample)
			}
			if fmtChunk.Channels == 0 || fmtChunk.SampleRate == 0 {
				return Clip{}, errors.New("wav: invalid channel count or sample rate")
			}
			format = Format{SampleRate: int(fmtChunk.SampleRate), Channels: int(fmtChunk.Channels)}
			haveFmt = true
			if err := skip(r, int64(chunk.Size)-16); err != nil {
				return Clip{}, err
			}

		case "data":
			if !haveFmt {
				return Clip{}, errors.New("wav: data chunk before fmt chunk")
			}
			size := int64(chunk.Size)
			if remaining := int64(r.Len()); size > remaining {
				// Streaming encoders write a placeholder size; take what is there.
				size = remaining
			}
			size -= size % int64(format.FrameSize())
			offset := int64(len(data)) - int64(r.Len())
			return Clip{Format: format, PCM: data[offset : offset+size]}, nil

		default:
			if err := skip(r, int64(chunk.Size)); err != nil {
				return Clip{}, err
			}
		}

		// Chunks are word aligned.
		if chunk.Size%2 == 1 {
			if err := skip(r, 1); err != nil {
				return Clip{}, err
			}
		}
	}
}

// EncodeWAV wraps 16-bit PCM in a minimal RIFF/WAVE container.
func EncodeWAV(clip Clip) []byte {
	var buf bytes.Buffer
	f := clip.Format
	dataSize := uint32(len(clip.PCM))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, struct {
		Size          uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
	}{
		Size:          16,
		AudioFormat:   wavFormatPCM,
		Channels:      uint16(f.Channels),
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate * f.FrameSize()),
		BlockAlign:    uint16(f.FrameSize()),
		BitsPerSample: 16,
	})
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataSize)
	buf.Write(clip.PCM)
	return buf.Bytes()
}

func skip(r *bytes.Reader, n int64) error {
	if n <= 0 {
		return nil
	}
	if n > int64(r.Len()) {
		return errors.New("wav: truncated chunk")
	}
	_, err := r.Seek(n, io.SeekCurrent)
	return err
}
