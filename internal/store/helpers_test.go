package store

import (
	"fmt"
	"path/filepath"
)

const testDims = 4

// testPage builds a page of file with the given vector direction.
func testPage(file string, n, total int, division string, vec ...float32) Page {
	if len(vec) == 0 {
		vec = []float32{1, 0, 0, 0}
	}
	return Page{
		ID:          fmt.Sprintf("%s#%d", file, n),
		Vector:      vec,
		FilePath:    file,
		FileName:    filepath.Base(file),
		PageNumber:  n,
		TotalPages:  total,
		IsFirstPage: n == 1,
		IsLastPage:  n == total,
		Division:    division,
		TextContent: fmt.Sprintf("page %d of %s", n, file),
		Language:    "unknown",
		CreatedAt:   1700000000,
		FileSize:    1024,
		ContentType: "application/pdf",
	}
}
