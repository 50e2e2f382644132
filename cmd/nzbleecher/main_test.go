package main

import (
	"path/filepath"
	"testing"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestGetRequiresArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"get"})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "requires at least 1 arg")
}

func TestMissingConfig(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	rootCmd.SetArgs([]string{"get", "--config", missing, "show.nzb"})
	err := rootCmd.Execute()
	assert.ErrorContains(t, err, "config file not found")
}

func TestServeRejectsArgs(t *testing.T) {
	rootCmd.SetArgs([]string{"serve", "extra"})
	assert.Error(t, rootCmd.Execute())
}

func TestStatusLine(t *testing.T) {
	st := domain.ArchiveStatus{ID: 3, Name: "show", Status: domain.StatusDownloading}
	assert.Equal(t, "#3 show [downloading]", statusLine(st))
}
