package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Conversions between Twilio's 8kHz mu-law frames and the linear PCM
// formats used by the AI session (16kHz in, 24kHz out).
//
// All functions are pure and safe for concurrent use. The resamplers are
// deliberately filterless (linear interpolation up, decimation down); this
// trades fidelity for latency, which is the right trade on a phone line
// that is already band-limited to 8kHz mu-law.

const (
	mulawBias = 0x84
	mulawClip = 32635

	// RateNarrowband is the telephony sample rate.
	RateNarrowband = 8000
	// RateInput is the linear PCM rate sent to the AI session.
	RateInput = 16000
	// RateOutput is the linear PCM rate received from the AI session.
	RateOutput = 24000
)

// ErrFormat reports a malformed audio buffer (odd byte length for 16-bit
// PCM) or an unsupported sample rate.
var ErrFormat = errors.New("audio: invalid sample buffer")

// DecodeMuLaw converts 8kHz mu-law bytes to 16-bit little-endian linear
// PCM at 16kHz. M input bytes always produce 4M output bytes.
func DecodeMuLaw(mulaw []byte) []byte {
	if len(mulaw) == 0 {
		return nil
	}
	samples := make([]int16, len(mulaw))
	for i, b := range mulaw {
		samples[i] = decodeSample(b)
	}
	return pcmToBytes(upsample8kTo16k(samples))
}

// EncodeMuLaw converts 16-bit little-endian linear PCM at rateHz (16000 or
// 24000) to 8kHz mu-law bytes by decimation.
func EncodeMuLaw(pcm []byte, rateHz int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrFormat, len(pcm))
	}
	if rateHz%RateNarrowband != 0 || rateHz < RateNarrowband {
		return nil, fmt.Errorf("%w: unsupported sample rate %d", ErrFormat, rateHz)
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	step := rateHz / RateNarrowband
	samples := bytesToPCM(pcm)
	out := make([]byte, 0, (len(samples)+step-1)/step)
	for i := 0; i < len(samples); i += step {
		out = append(out, encodeSample(samples[i]))
	}
	return out, nil
}

// decodeSample expands one mu-law byte to a 16-bit linear sample.
// Sign bit, 3-bit exponent, 4-bit mantissa, bias 0x84.
func decodeSample(b byte) int16 {
	u := ^b
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int32(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias

	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

// encodeSample compresses a 16-bit linear sample to one mu-law byte.
func encodeSample(s int16) byte {
	v := int32(s)
	var sign byte
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for exp := 0; exp < 8; exp++ {
		if v < 1<<(exp+8) {
			exponent = exp
			break
		}
	}

	mantissa := byte(v>>(exponent+3)) & 0x0F
	return ^(sign | byte(exponent)<<4 | mantissa)
}

// upsample8kTo16k doubles the sample count by linear interpolation: even
// output samples copy the source, odd samples average their neighbors, the
// last sample duplicates the final input.
func upsample8kTo16k(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*2)
	for i, s := range in {
		out[2*i] = s
		if i+1 < len(in) {
			out[2*i+1] = int16((int32(s) + int32(in[i+1])) / 2)
		}
	}
	out[len(out)-1] = in[len(in)-1]
	return out
}

func bytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
