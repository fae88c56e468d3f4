//go:build !unix

package storage

import "os"

func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) {}
