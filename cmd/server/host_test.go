package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostOf(t *testing.T) {
	assert.Equal(t, "lab.example.ac.id", hostOf("https://lab.example.ac.id"))
	assert.Equal(t, "localhost:9000", hostOf("http://localhost:9000/"))
	assert.Equal(t, "localhost:8080", hostOf("not a url"))
}
