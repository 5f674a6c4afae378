// Package pctx creates contexts that carry a logger.
//
// Applications get their root context from Background and derive everything
// else from it.  Long-running pieces of work are handed a named child:
//
//	go w.upload(pctx.Child(ctx, "uploader", pctx.WithFields(log.Space(space))))
//
// Each Child call appends its name to the parent's, so log lines show where
// in the call tree they came from, e.g. "chunkctl.upload.writer".
package pctx
