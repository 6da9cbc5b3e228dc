// Package tgui holds the small pieces every Telegram-facing message is
// built from: escaped HTML fragments, rune-safe truncation, inline
// keyboards and callback data.
//
// Values of type H are already escaped for ParseMode=HTML. Plain strings
// go through Esc (or one of the tag helpers) before they are joined.
package tgui
