// Package codeintel provides editor code intelligence for single-language
// and composite documents: member and name completion, calltips and end-tag
// completion for Python, JavaScript, CSS, Ruby, HTML, PHP, RHTML and Django
// templates.
//
// # Pipeline
//
// A query passes through four stages:
//
//  1. Lex and partition: the buffer's language lexer styles every byte
//     with a family and a class, and the styles are grouped into family
//     spans so each region knows its sub-language.
//
//  2. Trigger: [Engine.TriggerAt] looks at the characters before the
//     cursor and decides whether members, names, a calltip or an end tag
//     should be offered.
//
//  3. Scan: a structural driver per family turns the text into a CIX tree
//     of blobs, scopes and variables. Trees are cached in memory and in
//     SQLite keyed by content signature, and hook handlers may add
//     fabricated nodes after each load.
//
//  4. Evaluate: [Engine.Evaluate] extracts the expression before the
//     trigger, resolves it through the scope chain, class bases and
//     imports, and ranks the candidates.
//
// # Usage
//
//	e, err := codeintel.New("scan.db", codeintel.WithRoot("path/to/project"))
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	_, err = e.ScanDirectory(ctx, "path/to/project")
//
//	_, err = e.OpenBuffer("app.py", "", "import os\nos.")
//	if t, ok := e.TriggerAt("app.py", 13, false); ok {
//		res, err := e.Evaluate(ctx, "app.py", t)
//		...
//	}
//
// # Scanning
//
// Buffer edits schedule a background rescan on a fixed worker pool; a scan
// still queued for the same buffer is superseded. Under the "stale" query
// policy a query on an edited buffer is answered from the previous tree;
// under "wait" it waits up to the query timeout. Binary sources are
// scanned by the language's external scanner in a child process.
//
// # Hooks
//
// Hook handlers run in registration order after each tree load. They may
// only add nodes; a handler that fails, panics or removes scanned nodes is
// rolled back and logged without affecting the others. Handlers are Go
// values registered with [WithHooks] or [Engine.AddHook], the Risor scripts
// bundled in package scripts (see [WithoutBundledHooks]), or Risor scripts
// declared in the configuration file.
package codeintel
