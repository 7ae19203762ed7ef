// Package logx configures pagewatch's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional forward sink (min-level + rate limiting), used to copy
//     warnings to an operator chat
package logx
