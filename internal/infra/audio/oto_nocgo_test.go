//go:build !cgo && !darwin && !windows

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOtoSink_UnavailableWithoutCgo(t *testing.T) {
	sink := NewOtoSink(OtoSettings{})

	_, err := sink.Open(Clip{Format: Format{SampleRate: 22050, Channels: 1}})
	assert.Error(t, err)
	assert.NoError(t, sink.Close())
}
