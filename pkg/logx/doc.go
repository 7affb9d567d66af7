// Package logx is medminder's structured logging: a small Logger over zerolog
// whose level and sinks a Service swaps at runtime on config reload. Console
// output is human-readable with a short caller; file output is JSON lines.
package logx
