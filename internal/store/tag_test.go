package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagFor(t *testing.T) {
	cases := map[string]string{
		"HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC":       "llama-3-8b-instruct-q4f16_1-mlc",
		"mlc-ai/Phi-3-mini-4k-instruct-q4f16_1-MLC":         "phi-3-mini-4k-instruct-q4f16_1-mlc",
		"HF://mlc-ai/Mistral-7B-Instruct-v0.3-q4f16_1-MLC/": "mistral-7b-instruct-v0.3-q4f16_1-mlc",
		"HF://mlc-ai/gemma-2b-it-q4f16_1-MLC@v1":            "gemma-2b-it-q4f16_1-mlc",
		"local-model":                                       "local-model",
	}
	for in, want := range cases {
		assert.Equal(t, want, TagFor(in), in)
	}
	// deterministic
	assert.Equal(t, TagFor("HF://a/B"), TagFor("HF://a/B"))
}

func TestValidateTag(t *testing.T) {
	for _, ok := range []string{"a", "llama-3-8b-instruct-q4f16_1-mlc", "v0.3", "0abc"} {
		assert.NoError(t, ValidateTag(ok), ok)
	}
	for _, bad := range []string{"", "Upper", "has space", "-lead", ".hidden", "a/b", "a:b", string(make([]byte, 64))} {
		err := ValidateTag(bad)
		require.Error(t, err, bad)
		assert.ErrorIs(t, err, ErrInvalidTag)
	}
}

func TestParseRef(t *testing.T) {
	tag, v, err := ParseRef("model")
	require.NoError(t, err)
	assert.Equal(t, "model", tag)
	assert.Empty(t, v)

	tag, v, err = ParseRef("model:01hv0000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "model", tag)
	assert.Equal(t, "01hv0000000000000000000000", v)

	_, _, err = ParseRef("model:../x")
	assert.ErrorIs(t, err, ErrInvalidTag)
	_, _, err = ParseRef("Model")
	assert.ErrorIs(t, err, ErrInvalidTag)
}
