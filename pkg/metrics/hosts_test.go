package metrics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostLabelIsBounded(t *testing.T) {
	first := HostLabel("uploads.example.com")
	assert.Equal(t, "uploads.example.com", first)

	for i := 0; i < 10*MaxHostLabels; i++ {
		HostLabel(fmt.Sprintf("host-%d.example.com", i))
	}

	assert.Equal(t, OtherHost, HostLabel("late.example.com"))
	assert.Equal(t, "uploads.example.com", HostLabel("uploads.example.com"), "known hosts keep their label")
	assert.Equal(t, OtherHost, HostLabel(""))

	distinct := make(map[string]struct{})
	for i := 0; i < 10*MaxHostLabels; i++ {
		distinct[HostLabel(fmt.Sprintf("host-%d.example.com", i))] = struct{}{}
	}
	assert.LessOrEqual(t, len(distinct), MaxHostLabels)
}
