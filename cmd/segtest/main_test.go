package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildArgs(t *testing.T) {
	got := childArgs([]string{
		"-modelname=annnet", "-launch", "--local-rank=3", "-nproc-per-node", "2", "-noeval",
		"-local-rank", "1", "-launch=true", "-datasetname", "voc",
	})
	assert.Equal(t, []string{"-modelname=annnet", "-nproc-per-node", "2", "-noeval", "-datasetname", "voc"}, got)
}
