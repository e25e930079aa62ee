package voice

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/wav"
)

// resampleQuality trades CPU for fidelity; 4 is plenty for speech.
const resampleQuality = 4

// decodeAudioFile reads a WAV or MP3 file and returns interleaved stereo
// int16 samples at the session sample rate.
func decodeAudioFile(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		streamer, format, err = mp3.Decode(f)
	} else {
		streamer, format, err = wav.Decode(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != beep.SampleRate(SampleRate) {
		s = beep.Resample(resampleQuality, format.SampleRate, beep.SampleRate(SampleRate), streamer)
	}

	out := make([]int16, 0, streamer.Len()*Channels*2)
	buf := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(buf)
		for _, smp := range buf[:n] {
			out = append(out, floatToInt16(smp[0]), floatToInt16(smp[1]))
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func floatToInt16(v float64) int16 {
	switch {
	case v >= 1:
		return 32767
	case v <= -1:
		return -32768
	default:
		return int16(v * 32767)
	}
}

func int16sToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}
