// Package fatfs formats and populates FAT volumes on any storage.Backend
// using github.com/mitchellh/go-fs, so images and simulated media can be
// presented to a host already formatted.
package fatfs
