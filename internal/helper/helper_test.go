package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormTF(t *testing.T) {
	assert.Equal(t, "1h", NormTF("60m"))
	assert.Equal(t, "1h", NormTF("1H"))
	assert.Equal(t, "15m", NormTF("candle15m"))
	assert.Equal(t, "5m", NormTF(" 5M "))
	assert.Equal(t, "1m", NormTF("1m"))
}

func TestOKXBar(t *testing.T) {
	for tf, want := range map[string]string{
		"1m":  "1m",
		"15m": "15m",
		"60m": "1H",
		"1h":  "1H",
		"4h":  "4H",
		"1d":  "1D",
	} {
		got, err := OKXBar(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got, tf)
	}

	_, err := OKXBar("7m")
	assert.Error(t, err)
}
