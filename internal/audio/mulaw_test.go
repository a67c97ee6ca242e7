package audio

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestDecodeMuLawSizeInvariant(t *testing.T) {
	for _, n := range []int{0, 1, 2, 160, 321} {
		in := bytes.Repeat([]byte{0xFF}, n)
		out := DecodeMuLaw(in)
		if len(out) != n*4 {
			t.Fatalf("n=%d: got %d output bytes, want %d", n, len(out), n*4)
		}
	}
}

func TestDecodeMuLawSilence(t *testing.T) {
	// 0xFF is mu-law digital silence (sample 0).
	out := DecodeMuLaw([]byte{0xFF, 0xFF, 0xFF})
	for i, b := range out {
		if b != 0 {
			t.Fatalf("byte %d: got %#x, want 0", i, b)
		}
	}
}

func TestEncodeMuLawDecimation(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		rate    int
		want    int
	}{
		{"16k even", 320, RateInput, 160},
		{"24k multiple of three", 480, RateOutput, 160},
		{"16k single", 2, RateInput, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, tt.samples*2)
			out, err := EncodeMuLaw(pcm, tt.rate)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(out) != tt.want {
				t.Fatalf("got %d bytes, want %d", len(out), tt.want)
			}
		})
	}
}

func TestEncodeMuLawRejectsBadInput(t *testing.T) {
	if _, err := EncodeMuLaw([]byte{0x01}, RateInput); !errors.Is(err, ErrFormat) {
		t.Fatalf("odd buffer: got %v, want ErrFormat", err)
	}
	if _, err := EncodeMuLaw(make([]byte, 4), 11025); !errors.Is(err, ErrFormat) {
		t.Fatalf("bad rate: got %v, want ErrFormat", err)
	}
}

func TestEncodeMuLawEmpty(t *testing.T) {
	out, err := EncodeMuLaw(nil, RateInput)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("got %d bytes, want 0", len(out))
	}
}

// Round trips through the compander must stay within quantization error and
// must not diverge under repeated application.
func TestMuLawRoundTripBounded(t *testing.T) {
	const n = 160
	pcm := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		s := int16(8000 * math.Sin(2*math.Pi*float64(i)*440/16000))
		pcm = append(pcm, byte(uint16(s)), byte(uint16(s)>>8))
	}

	first, err := EncodeMuLaw(pcm, RateInput)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := EncodeMuLaw(DecodeMuLaw(first), RateInput)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("length changed across round trip: %d vs %d", len(first), len(second))
	}

	for i := range first {
		a := decodeSample(first[i])
		b := decodeSample(second[i])
		diff := int32(a) - int32(b)
		if diff < 0 {
			diff = -diff
		}
		// One compander quantization step at this magnitude.
		if diff > 512 {
			t.Fatalf("sample %d diverged: %d vs %d", i, a, b)
		}
	}

	// A further decode/encode pass must be stable, not drift.
	third, err := EncodeMuLaw(DecodeMuLaw(second), RateInput)
	if err != nil {
		t.Fatalf("third encode: %v", err)
	}
	if !bytes.Equal(second, third) {
		t.Fatalf("round trip did not converge")
	}
}

func TestEncodeSampleClips(t *testing.T) {
	lo := encodeSample(math.MinInt16)
	hi := encodeSample(math.MaxInt16)
	if decodeSample(lo) > -mulawClip+256 {
		t.Fatalf("negative clip decoded to %d", decodeSample(lo))
	}
	if decodeSample(hi) < mulawClip-256 {
		t.Fatalf("positive clip decoded to %d", decodeSample(hi))
	}
}
