// Package logx is offerbot's structured logging.
//
// logx.Logger is a small value type over zerolog:
//   - console output is human readable (short timestamp, file:line caller)
//   - file output is JSON lines
//   - an optional Telegram sink forwards warn+ lines to an operator chat,
//     rate limited and never blocking the caller
//
// The zero Logger discards everything.
package logx
