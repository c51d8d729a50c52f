package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignature_Stable(t *testing.T) {
	a := signature("liquidation", "UPDATED", "HIGH", "3")
	b := signature("liquidation", "UPDATED", "HIGH", "3")
	c := signature("liquidation", "UPDATED", "HIGH", "4")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestBucketFloat(t *testing.T) {
	// values inside the same bucket collapse to one label
	assert.Equal(t, bucketFloat(0.041, 0.01), bucketFloat(0.049, 0.01))
	assert.NotEqual(t, bucketFloat(0.039, 0.01), bucketFloat(0.041, 0.01))

	// negative buffers bucket below zero
	assert.Equal(t, "-1", bucketFloat(-0.005, 0.01))
	assert.Equal(t, "0", bucketFloat(0.005, 0.01))

	// zero width degrades to a fixed-precision literal
	assert.Equal(t, "0.0450", bucketFloat(0.045, 0))
}
