package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-minutes/internal/meeting"
)

// ErrUnsupportedAudio is returned by ReadWAV for anything but 16-bit PCM WAV.
var ErrUnsupportedAudio = errors.New("unsupported audio: expected 16-bit PCM WAV")

// ReadWAV decodes a whole WAV stream into 16-bit little endian PCM.
func ReadWAV(r io.ReadSeeker) ([]byte, meeting.AudioFormat, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, meeting.AudioFormat{}, ErrUnsupportedAudio
	}
	if dec.BitDepth != 16 || dec.WavAudioFormat != 1 {
		return nil, meeting.AudioFormat{}, fmt.Errorf("%w: %d-bit, format %d", ErrUnsupportedAudio, dec.BitDepth, dec.WavAudioFormat)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, meeting.AudioFormat{}, fmt.Errorf("decode wav: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(sample)))
	}
	format := meeting.AudioFormat{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans), Encoding: "s16le"}
	return pcm, format, nil
}

// WritePCM encodes 16-bit little endian PCM as a WAV stream.
func WritePCM(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WAVEncoder finalizes a session recording as <Dir>/<session>.wav. With an
// empty Dir the file is written to a temporary location and removed once read.
type WAVEncoder struct {
	Dir string
}

func (e WAVEncoder) Encode(sessionID string, pcm []byte, format meeting.AudioFormat) (meeting.AudioBlob, error) {
	file, keep, err := e.create(sessionID)
	if err != nil {
		return meeting.AudioBlob{}, err
	}
	path := file.Name()
	if !keep {
		defer os.Remove(path)
	}

	if err := WritePCM(file, pcm, format.SampleRate, format.Channels); err != nil {
		file.Close()
		return meeting.AudioBlob{}, err
	}
	if err := file.Close(); err != nil {
		return meeting.AudioBlob{}, fmt.Errorf("close recording: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return meeting.AudioBlob{}, fmt.Errorf("read recording: %w", err)
	}

	blob := meeting.AudioBlob{
		MIMEType: "audio/wav",
		Format:   format,
		Duration: durationOf(len(pcm), format),
		Data:     data,
	}
	if keep {
		blob.Path = path
	}
	return blob, nil
}

func (e WAVEncoder) create(sessionID string) (*os.File, bool, error) {
	if e.Dir == "" {
		file, err := os.CreateTemp("", "loqa_minutes_*.wav")
		if err != nil {
			return nil, false, fmt.Errorf("temp recording: %w", err)
		}
		return file, false, nil
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create recordings dir: %w", err)
	}
	file, err := os.Create(filepath.Join(e.Dir, sessionID+".wav"))
	if err != nil {
		return nil, false, fmt.Errorf("create recording: %w", err)
	}
	return file, true, nil
}
