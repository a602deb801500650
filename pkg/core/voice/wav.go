package voice

import "encoding/binary"

// Telephony audio is G.711 mu-law, 8 kHz, mono.
const (
	TelephonySampleRate = 8000
	TelephonyChannels   = 1
	PCMBitsPerSample    = 16
)

var mulawTable = func() [256]int16 {
	var t [256]int16
	for i := range t {
		t[i] = decodeMulaw(byte(i))
	}
	return t
}()

func decodeMulaw(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// MulawToPCM16 decodes mu-law bytes into little-endian 16-bit PCM.
func MulawToPCM16(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, b := range mulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mulawTable[b]))
	}
	return out
}

// PCMToWAV wraps raw PCM audio data with a 44-byte WAV header.
func PCMToWAV(pcmData []byte, sampleRate, bitsPerSample, channels int) []byte {
	dataLen := len(pcmData)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44, 44+dataLen)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcmData...)
}

// MulawToWAV converts telephony audio into a playable WAV file.
func MulawToWAV(mulaw []byte) []byte {
	return PCMToWAV(MulawToPCM16(mulaw), TelephonySampleRate, PCMBitsPerSample, TelephonyChannels)
}
