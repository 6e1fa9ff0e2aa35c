// Package logx configures scriptd's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level/sink changes applied live via Service.Apply
//
// This is the daemon's own operational log. Output produced by launched
// scripts flows through internal/logbus instead.
package logx
