package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAV_Header(t *testing.T) {
	data, err := EncodeWAV([]float32{0, 0.5, -0.5, 1, -1}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != 44+5*2 {
		t.Fatalf("len = %d, want %d", len(data), 44+5*2)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if bits := binary.LittleEndian.Uint16(data[34:36]); bits != 16 {
		t.Errorf("bits per sample = %d, want 16", bits)
	}
}

func TestEncodeWAV_ClampsOutOfRange(t *testing.T) {
	data, err := EncodeWAV([]float32{2.0, -2.0}, 8000)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	hi := int16(binary.LittleEndian.Uint16(data[44:46]))
	lo := int16(binary.LittleEndian.Uint16(data[46:48]))
	if hi != 32767 {
		t.Errorf("clamped high = %d, want 32767", hi)
	}
	if lo != -32767 {
		t.Errorf("clamped low = %d, want -32767", lo)
	}
}

func TestEncodeWAV_Errors(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("empty samples: want error")
	}
	if _, err := EncodeWAV([]float32{0}, 0); err == nil {
		t.Error("zero sample rate: want error")
	}
}
