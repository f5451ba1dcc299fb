package voice

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := EncodeWAV(pcm, 16000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), 44+len(pcm))
	}
	if !bytes.HasPrefix(wav, []byte("RIFF")) || string(wav[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	if bits := binary.LittleEndian.Uint16(wav[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d", bits)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("pcm bytes not carried through")
	}
}

func TestExtractPCM(t *testing.T) {
	pcm := []byte{9, 8, 7, 6}

	t.Run("wav body", func(t *testing.T) {
		got, err := ExtractPCM(EncodeWAV(pcm, 16000))
		if err != nil || !bytes.Equal(got, pcm) {
			t.Errorf("got %v, %v", got, err)
		}
	})

	t.Run("bare pcm passthrough", func(t *testing.T) {
		got, err := ExtractPCM(pcm)
		if err != nil || !bytes.Equal(got, pcm) {
			t.Errorf("got %v, %v", got, err)
		}
	})

	t.Run("riff without data chunk", func(t *testing.T) {
		broken := append([]byte("RIFF\x00\x00\x00\x00WAVE"), []byte("fmt \x04\x00\x00\x00abcd")...)
		if _, err := ExtractPCM(broken); err == nil {
			t.Error("expected error for missing data chunk")
		}
	})
}
