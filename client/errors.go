package client

import "fmt"

// UploadIncompleteError names the chunk indices that could not be
// stored. There is no automatic retry; the file's metadata stays
// registered so the failure is visible.
type UploadIncompleteError struct {
	Failed []int
}

func (e *UploadIncompleteError) Error() string {
	return fmt.Sprintf("upload incomplete: chunks %v failed", e.Failed)
}

// DownloadIncompleteError names the chunk indices that could not be
// fetched. The destination file is removed rather than left truncated.
type DownloadIncompleteError struct {
	Missing []int
}

func (e *DownloadIncompleteError) Error() string {
	return fmt.Sprintf("download incomplete: chunks %v missing", e.Missing)
}
