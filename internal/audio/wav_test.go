package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWAVHeader(t *testing.T) {
	pcm := PCMToBytes([]int16{1, -1, 32767, -32768})
	wav := BuildWAV(pcm, 16000, 1, 16)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(16000*2), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestPCMByteRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 12345, -12345, 32767, -32768}
	assert.Equal(t, samples, BytesToPCM(PCMToBytes(samples)))
}

func TestBytesToPCMIgnoresTrailingOddByte(t *testing.T) {
	b := append(PCMToBytes([]int16{7, 8}), 0xFF)
	assert.Equal(t, []int16{7, 8}, BytesToPCM(b))
}
