// Package preflight checks that the host can run docindex before the
// server starts: free space and write access in the data directory, the
// file descriptor limit the watcher needs, the documents root, and the
// embedding and OCR services.
//
//	checker := preflight.New(preflight.WithEmbedder(e))
//	results := checker.RunAll(ctx, preflight.Target{DataDir: dir, DocumentsRoot: root})
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
